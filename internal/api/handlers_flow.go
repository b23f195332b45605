/**
 * @description
 * HTTP handlers for approval-flow templates: the owner submits a signed
 * template for anchoring, and founders browse their templates with
 * pull-refreshed anchoring status.
 */

package api

import (
	"net/http"

	"github.com/boxproject/box-appServer/internal/app"
)

type flowCreateRequest struct {
	AppAccountID string `json:"app_account_id"`
	Flow         string `json:"flow"`
	Sign         string `json:"sign"`
}

// CreateFlowHandler submits a signed approval-flow template.
func (h *AppHandlers) CreateFlowHandler(w http.ResponseWriter, r *http.Request) {
	var req flowCreateRequest
	if !h.decodeBody(w, r, "flow_create", &req) {
		return
	}
	flowID, err := h.service.CreateFlow(r.Context(), app.FlowCreateRequest{
		AppAccountID: req.AppAccountID,
		Flow:         req.Flow,
		Sign:         req.Sign,
	})
	if err != nil {
		h.writeServiceError(w, "flow_create", err)
		return
	}
	h.writeData(w, map[string]string{"flow_id": flowID})
}

// FlowListHandler pages a founder's templates, refreshing pending anchoring
// status from the agent on the way out.
func (h *AppHandlers) FlowListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := parsePage(r)
	progress, _ := parseOptionalInt(q.Get("progress"), -1)
	listing, err := h.service.FlowList(r.Context(), q.Get("app_account_id"), q.Get("keywords"), progress, page, limit)
	if err != nil {
		h.writeServiceError(w, "flow_list", err)
		return
	}
	h.writeData(w, listing)
}

// FlowDetailHandler returns one template's parsed tiers.
func (h *AppHandlers) FlowDetailHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	detail, err := h.service.FlowDetail(r.Context(), q.Get("app_account_id"), q.Get("flow_id"))
	if err != nil {
		h.writeServiceError(w, "flow_detail", err)
		return
	}
	h.writeData(w, detail)
}
