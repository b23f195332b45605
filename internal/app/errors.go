/**
 * @description
 * This file defines the coded errors the service layer surfaces to the API.
 * Clients dispatch on the numeric code, so the codes are part of the wire
 * contract and never change meaning. 1xxx covers accounts and registration,
 * 2xxx transfers and capital, 3xxx flow templates, 5000 is the generic
 * internal fault.
 */

package app

// CodedError is a business failure with a stable wire code.
type CodedError struct {
	Code    int
	Message string
}

func (e *CodedError) Error() string {
	return e.Message
}

var (
	ErrInvalidParams       = &CodedError{1001, "invalid parameters"}
	ErrDuplicateApply      = &CodedError{1002, "registration already applied"}
	ErrRegNotFound         = &CodedError{1003, "registration not found"}
	ErrAccountNotFound     = &CodedError{1004, "account not found"}
	ErrSignatureInvalid    = &CodedError{1005, "signature verification failed"}
	ErrFlowUnavailable     = &CodedError{1006, "approval flow missing or not anchored"}
	ErrNotAuthorized       = &CodedError{1007, "not authorized"}
	ErrEmployeeNotFound    = &CodedError{1008, "employee not found"}
	ErrUpstreamFault       = &CodedError{1009, "signer notification failed"}
	ErrAccountExists       = &CodedError{1010, "account already exists"}
	ErrAccountDeparted     = &CodedError{1011, "account has departed"}
	ErrUpstreamCancelFault = &CodedError{1012, "signer cancellation failed"}
	ErrEmployeeDeparted    = &CodedError{1013, "employee has departed"}
	ErrCaptainDeparted     = &CodedError{1014, "superior has departed"}
	ErrDepthMismatch       = &CodedError{1015, "hierarchy depth mismatch"}

	ErrApplyMalformed    = &CodedError{2001, "malformed transfer content"}
	ErrUnknownCurrency   = &CodedError{2002, "unknown currency"}
	ErrNotApprover       = &CodedError{2003, "not an approver of this transfer"}
	ErrTransferCreate    = &CodedError{2004, "transfer creation failed"}
	ErrOrderNotFound     = &CodedError{2005, "order not found"}
	ErrAlreadyVoted      = &CodedError{2006, "decision already recorded"}
	ErrSettlementSubmit  = &CodedError{2007, "settlement submission failed"}
	ErrCurrencyNotListed = &CodedError{2008, "currency not listed"}

	ErrNotRoot    = &CodedError{3001, "operation reserved for the organization owner"}
	ErrFlowExists = &CodedError{3002, "approval flow already exists"}

	ErrInternal = &CodedError{5000, "internal error"}
)
