/**
 * @description
 * HTTP handlers for the organization surface: direct-report listings and
 * subtree search, member detail, the owner's escrowed-key pickup, and
 * member removal or replacement.
 */

package api

import (
	"net/http"

	"github.com/boxproject/box-appServer/internal/app"
)

type changeEmployeeRequest struct {
	EmployeeID  string `json:"employee_id"`
	ManagerID   string `json:"manager_id"`
	Sign        string `json:"sign"`
	CipherTexts string `json:"cipher_texts"`
	ReplacerID  string `json:"replacer_id"`
}

// EmployeeListHandler lists the caller's direct reports, or searches their
// subtree when a keyword is supplied.
func (h *AppHandlers) EmployeeListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := parsePage(r)
	listing, err := h.service.EmployeeList(r.Context(), q.Get("app_account_id"), q.Get("keywords"), page, limit)
	if err != nil {
		h.writeServiceError(w, "employee_list", err)
		return
	}
	h.writeData(w, listing)
}

// EmployeeDetailHandler returns one subordinate's cipher digest and reports.
func (h *AppHandlers) EmployeeDetailHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	detail, err := h.service.EmployeeDetail(r.Context(), q.Get("app_account_id"), q.Get("employee_id"))
	if err != nil {
		h.writeServiceError(w, "employee_detail", err)
		return
	}
	h.writeData(w, detail)
}

// EmployeeKeyListHandler hands the owner every undelivered key bundle.
func (h *AppHandlers) EmployeeKeyListHandler(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.EmployeeKeyList(r.Context(), r.URL.Query().Get("app_account_id"))
	if err != nil {
		h.writeServiceError(w, "employee_key_list", err)
		return
	}
	h.writeData(w, map[string]interface{}{"list": keys})
}

// EmployeeKeyHandler hands the owner one member's key bundle.
func (h *AppHandlers) EmployeeKeyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := h.service.EmployeeKey(r.Context(), q.Get("app_account_id"), q.Get("employee_id"))
	if err != nil {
		h.writeServiceError(w, "employee_key", err)
		return
	}
	h.writeData(w, key)
}

// ChangeEmployeeHandler removes a member from the tree, optionally handing
// their reports to a replacer at the same depth.
func (h *AppHandlers) ChangeEmployeeHandler(w http.ResponseWriter, r *http.Request) {
	var req changeEmployeeRequest
	if !h.decodeBody(w, r, "employee_change", &req) {
		return
	}
	replaced, err := h.service.ChangeEmployee(r.Context(), app.ChangeEmployeeRequest{
		EmployeeID:  req.EmployeeID,
		ManagerID:   req.ManagerID,
		Sign:        req.Sign,
		CipherTexts: req.CipherTexts,
		ReplacerID:  req.ReplacerID,
	})
	if err != nil {
		h.writeServiceError(w, "employee_change", err)
		return
	}
	h.writeData(w, map[string]bool{"replaced": replaced})
}
