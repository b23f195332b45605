/**
 * @description
 * HTTP handlers for the onboarding surface: submitting an application,
 * listing a captain's pending queue, reading one verdict, the captain's
 * decision, the applicant's cancellation, and the hardware signer's
 * owner-registration callback.
 */

package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/boxproject/box-appServer/internal/app"
)

type registrationApplyRequest struct {
	Msg            string `json:"msg"`
	ApplyerID      string `json:"applyer_id"`
	CaptainID      string `json:"captain_id"`
	ApplyerAccount string `json:"applyer_account"`
}

type registrationDecisionRequest struct {
	RegID         string `json:"reg_id"`
	Consent       int    `json:"consent"`
	ApplyerPubKey string `json:"applyer_pub_key"`
	CipherText    string `json:"cipher_text"`
	EnPubKey      string `json:"en_pub_key"`
}

type registrationCancelRequest struct {
	RegID     string `json:"reg_id"`
	ApplyerID string `json:"applyer_id"`
	Sign      string `json:"sign"`
}

type adminDecisionRequest struct {
	RegID      string `json:"reg_id"`
	Status     int    `json:"status"`
	PubKey     string `json:"pub_key"`
	CipherText string `json:"cipher_text"`
}

// ApplyForAccountHandler handles fresh onboarding applications. The public
// endpoint is rate limited per applicant when Redis is wired.
func (h *AppHandlers) ApplyForAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req registrationApplyRequest
	if !h.decodeBody(w, r, "registration_apply", &req) {
		return
	}

	if h.limiter != nil && h.regPerMin > 0 && req.ApplyerID != "" {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "registration_apply", req.ApplyerID, h.regPerMin, time.Minute)
		if err != nil {
			log.Printf("level=warn component=api endpoint=registration_apply msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > h.regPerMin {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, "Too many registration attempts", http.StatusTooManyRequests)
			return
		}
	}

	regID, err := h.service.ApplyForAccount(r.Context(), app.RegistrationApply{
		Msg:            req.Msg,
		ApplyerID:      req.ApplyerID,
		CaptainID:      req.CaptainID,
		ApplyerAccount: req.ApplyerAccount,
	})
	if err != nil {
		h.writeServiceError(w, "registration_apply", err)
		return
	}
	h.writeData(w, map[string]string{"reg_id": regID})
}

// PendingRegistrationsHandler lists the newest undecided applications
// addressed to the calling captain.
func (h *AppHandlers) PendingRegistrationsHandler(w http.ResponseWriter, r *http.Request) {
	captainID := r.URL.Query().Get("app_account_id")
	regs, err := h.service.PendingRegistrations(r.Context(), captainID)
	if err != nil {
		h.writeServiceError(w, "registration_pending", err)
		return
	}
	h.writeData(w, map[string]interface{}{"list": regs})
}

// RegistrationInfoHandler returns one application's verdict for the
// applicant's polling loop.
func (h *AppHandlers) RegistrationInfoHandler(w http.ResponseWriter, r *http.Request) {
	regID := r.URL.Query().Get("reg_id")
	detail, err := h.service.RegistrationInfo(r.Context(), regID)
	if err != nil {
		h.writeServiceError(w, "registration_info", err)
		return
	}
	h.writeData(w, detail)
}

// ApproveRegistrationHandler records the captain's verdict; an approval
// inserts the applicant into the organization tree.
func (h *AppHandlers) ApproveRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	var req registrationDecisionRequest
	if !h.decodeBody(w, r, "registration_approval", &req) {
		return
	}
	if err := h.service.ApproveRegistration(r.Context(), app.RegistrationDecision{
		RegID:         req.RegID,
		Consent:       req.Consent,
		ApplyerPubKey: req.ApplyerPubKey,
		CipherText:    req.CipherText,
		EnPubKey:      req.EnPubKey,
	}); err != nil {
		h.writeServiceError(w, "registration_approval", err)
		return
	}
	h.writeData(w, nil)
}

// CancelRegistrationHandler rolls an approved registration back on the
// applicant's signed request.
func (h *AppHandlers) CancelRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	var req registrationCancelRequest
	if !h.decodeBody(w, r, "registration_cancel", &req) {
		return
	}
	if err := h.service.CancelRegistration(r.Context(), req.RegID, req.ApplyerID, req.Sign); err != nil {
		h.writeServiceError(w, "registration_cancel", err)
		return
	}
	h.writeData(w, nil)
}

// AdminApproveRegistrationHandler is the agent callback carrying the
// hardware signer's verdict on an owner registration.
func (h *AppHandlers) AdminApproveRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	var req adminDecisionRequest
	if !h.decodeBody(w, r, "registration_admin_approval", &req) {
		return
	}
	if err := h.service.AdminApproveRegistration(r.Context(), app.AdminDecision{
		RegID:      req.RegID,
		Status:     req.Status,
		PubKey:     req.PubKey,
		CipherText: req.CipherText,
	}); err != nil {
		h.writeServiceError(w, "registration_admin_approval", err)
		return
	}
	h.writeData(w, nil)
}
