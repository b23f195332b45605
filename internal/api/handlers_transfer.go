/**
 * @description
 * HTTP handlers for the transfer surface: submitting a signed withdrawal
 * application, recording approver decisions, and the role-aware history and
 * detail reads.
 */

package api

import (
	"net/http"

	"github.com/boxproject/box-appServer/internal/app"
)

type transferApplyRequest struct {
	AppAccountID string `json:"app_account_id"`
	ApplyInfo    string `json:"apply_info"`
	FlowID       string `json:"flow_id"`
	Sign         string `json:"sign"`
}

type transferApprovalRequest struct {
	OrderNumber  string `json:"order_number"`
	AppAccountID string `json:"app_account_id"`
	Progress     int    `json:"progress"`
	Sign         string `json:"sign"`
}

// SubmitTransferHandler accepts a signed withdrawal application against an
// anchored flow template.
func (h *AppHandlers) SubmitTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferApplyRequest
	if !h.decodeBody(w, r, "transfer_apply", &req) {
		return
	}
	orderNumber, err := h.service.SubmitTransfer(r.Context(), app.TransferApply{
		AppAccountID: req.AppAccountID,
		ApplyInfo:    req.ApplyInfo,
		FlowID:       req.FlowID,
		Sign:         req.Sign,
	})
	if err != nil {
		h.writeServiceError(w, "transfer_apply", err)
		return
	}
	h.writeData(w, map[string]string{"order_number": orderNumber})
}

// ApproveTransferHandler records one approver's signed decision and advances
// the transfer through its flow tiers.
func (h *AppHandlers) ApproveTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferApprovalRequest
	if !h.decodeBody(w, r, "transfer_approval", &req) {
		return
	}
	if err := h.service.ApproveTransfer(r.Context(), app.TransferApproval{
		OrderNumber:  req.OrderNumber,
		AppAccountID: req.AppAccountID,
		Progress:     req.Progress,
		Sign:         req.Sign,
	}); err != nil {
		h.writeServiceError(w, "transfer_approval", err)
		return
	}
	h.writeData(w, nil)
}

// TransferListHandler pages the caller's transfer history, as applicant or
// as approver.
func (h *AppHandlers) TransferListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := parsePage(r)
	role, _ := parseOptionalInt(q.Get("type"), 0)
	progress, _ := parseOptionalInt(q.Get("progress"), -1)
	listing, err := h.service.TransferList(r.Context(), q.Get("app_account_id"), role, progress, page, limit)
	if err != nil {
		h.writeServiceError(w, "transfer_list", err)
		return
	}
	h.writeData(w, listing)
}

// TransferDetailHandler returns one transfer with its per-tier decisions.
func (h *AppHandlers) TransferDetailHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	detail, err := h.service.TransferDetail(r.Context(), q.Get("app_account_id"), q.Get("order_number"))
	if err != nil {
		h.writeServiceError(w, "transfer_detail", err)
		return
	}
	h.writeData(w, detail)
}
