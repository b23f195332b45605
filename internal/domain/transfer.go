/**
 * @description
 * This file defines the transfer-request and approval-vote domain models.
 * A transfer is one instance of money movement bound to a flow template;
 * votes (reviews) are created progressively, tier by tier, as earlier tiers
 * resolve, and record each invited approver's decision and signature.
 *
 * @notes
 * - Amounts travel as decimal strings end to end to avoid floating point;
 *   scaling by the currency factor happens only when building the
 *   settlement payload.
 * - A review row existing for (transfer, approver) means that approver has
 *   been invited into the currently-active or an earlier tier. Absence of a
 *   row means the approver's tier has not been reached (or they are not in
 *   the template at all).
 */

package domain

import (
	"encoding/json"
	"errors"
)

// Transfer progress states.
const (
	TransferAwaiting   = 0
	TransferInProgress = 1
	TransferRejected   = 2
	TransferApproved   = 3
)

// Review decision codes. A freshly seeded row carries ReviewPending until
// its approver casts a vote.
const (
	ReviewPending  = 0
	ReviewRejected = 2
	ReviewApproved = 3
)

// Settlement arrival markers on a transfer.
const (
	ArrivalNone        = 0
	ArrivalProvisional = 1
	ArrivalSettled     = 2
)

// Transfer is one money-movement request under a bound flow template.
type Transfer struct {
	ID           int64   `json:"trans_id"`
	OrderNumber  string  `json:"order_number"`
	TxInfo       string  `json:"tx_info"`
	TransHash    string  `json:"trans_hash"`
	ApplyerID    int64   `json:"-"`
	ApplyerAcc   string  `json:"applyer"`
	ApplyerUID   string  `json:"applyer_uid"`
	CurrencyID   int64   `json:"-"`
	Amount       string  `json:"amount"`
	FlowID       int64   `json:"-"`
	ApplyContent string  `json:"apply_info"`
	ApplyerSign  string  `json:"-"`
	Progress     int     `json:"progress"`
	Arrived      int     `json:"arrived"`
	ChainTxID    *string `json:"tx_id,omitempty"`
	ApplyAt      int64   `json:"apply_at"`
	ApprovalAt   *int64  `json:"approval_at"`
	RejectAt     *int64  `json:"reject_at"`
}

// Review is one (transfer, approver) vote row.
type Review struct {
	TransferID   int64   `json:"-"`
	ManagerAccID int64   `json:"-"`
	Comments     int     `json:"progress"`
	Sign         *string `json:"sign"`
}

// ApplyContent is the parsed transfer apply-content the applicant signed.
type ApplyContent struct {
	TxInfo    string `json:"tx_info"`
	ToAddress string `json:"to_address"`
	Miner     string `json:"miner"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Timestamp int64  `json:"timestamp"`
}

var ErrApplyContentMalformed = errors.New("transfer apply content malformed")

// ParseApplyContent decodes and validates the raw apply-content string.
func ParseApplyContent(raw string) (*ApplyContent, error) {
	var content ApplyContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil, ErrApplyContentMalformed
	}
	if content.TxInfo == "" || content.ToAddress == "" || content.Miner == "" ||
		content.Amount == "" || content.Currency == "" || content.Timestamp == 0 {
		return nil, ErrApplyContentMalformed
	}
	return &content, nil
}

// Transfer listing roles.
const (
	TransferRoleApplyer  = 0
	TransferRoleApprover = 1
)

// TransferRecord is one row of the role-aware transfer listing. For the
// approver view a raw progress of 0 (awaiting) is presented as 1: from any
// single approver's perspective the request is already in flight.
type TransferRecord struct {
	OrderNumber string `json:"order_number"`
	TxInfo      string `json:"tx_info"`
	Progress    int    `json:"progress"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Arrived     int    `json:"arrived"`
	ApplyAt     int64  `json:"apply_at"`
}

// TransferDetail is the full detail view of one transfer, including the
// per-tier approval state reconstructed from vote rows.
type TransferDetail struct {
	TransferHash string             `json:"transfer_hash"`
	OrderNumber  string             `json:"order_number"`
	TxInfo       string             `json:"tx_info"`
	Applyer      string             `json:"applyer"`
	ApplyerUID   string             `json:"applyer_uid"`
	Progress     int                `json:"progress"`
	Arrived      int                `json:"arrived"`
	ApplyAt      int64              `json:"apply_at"`
	ApprovalAt   *int64             `json:"approval_at"`
	RejectAt     *int64             `json:"reject_at"`
	ApplyInfo    string             `json:"apply_info"`
	SingleLimit  string             `json:"single_limit"`
	ApprovalInfo []TierApprovalView `json:"approvaled_info"`
}

// ApproverSign pairs an approver identity with their recorded signature,
// aggregated into the settlement payload in tier-then-roster order.
type ApproverSign struct {
	AppID string `json:"appid"`
	Sign  string `json:"sign"`
}

// TradeRecord is one row of the merged deposit/withdrawal history.
type TradeRecord struct {
	OrderNumber string `json:"order_number"`
	TxInfo      string `json:"tx_info"`
	Amount      string `json:"amount"`
	Progress    int    `json:"progress"`
	UpdatedAt   int64  `json:"updated_at"`
	Type        int    `json:"type"`
}
