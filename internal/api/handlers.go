/**
 * @description
 * This file contains the shared plumbing for the app server's HTTP handlers:
 * the handler container, the response envelope every endpoint answers with,
 * and small request-parsing helpers. Handlers parse incoming requests, call
 * the application service, and translate coded business failures onto the
 * wire envelope. They act as the bridge between the web layer and the
 * business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app: For service logic and coded errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/boxproject/box-appServer/internal/app"
)

// AppHandlers holds the application service that handlers will use.
type AppHandlers struct {
	service     *app.Service
	limiter     app.RateLimiter
	regPerMin   int
	internalKey string
}

// NewAppHandlers creates a new instance of AppHandlers.
func NewAppHandlers(service *app.Service, internalKey string) *AppHandlers {
	return &AppHandlers{service: service, internalKey: internalKey}
}

// SetRegistrationRateLimit wires the optional Redis limiter onto the public
// registration endpoint. A nil limiter or non-positive limit disables it.
func (h *AppHandlers) SetRegistrationRateLimit(limiter app.RateLimiter, perMinute int) {
	h.limiter = limiter
	h.regPerMin = perMinute
}

// envelope is the wire shape every endpoint answers with. Clients dispatch
// on Code; zero means success.
type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// writeData answers a successful request.
func (h *AppHandlers) writeData(w http.ResponseWriter, data interface{}) {
	h.writeEnvelope(w, 0, "ok", data)
}

// writeServiceError maps a business failure onto the envelope. Anything
// without a wire code is logged and collapsed onto the generic fault code.
func (h *AppHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var coded *app.CodedError
	if errors.As(err, &coded) {
		h.writeEnvelope(w, coded.Code, coded.Message, nil)
		return
	}
	log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
	h.writeEnvelope(w, app.ErrInternal.Code, app.ErrInternal.Message, nil)
}

func (h *AppHandlers) writeEnvelope(w http.ResponseWriter, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{Code: code, Message: message, Data: data})
}

// decodeBody parses a JSON request body, answering the invalid-params code
// itself when the payload is unreadable. Returns false when the request is
// already answered.
func (h *AppHandlers) decodeBody(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		h.writeEnvelope(w, app.ErrInvalidParams.Code, app.ErrInvalidParams.Message, nil)
		return false
	}
	return true
}

// parsePage reads the page/limit query parameters, leaving zero values for
// the service layer to normalize.
func parsePage(r *http.Request) (page, limit int) {
	page, _ = parseOptionalInt(r.URL.Query().Get("page"), 0)
	limit, _ = parseOptionalInt(r.URL.Query().Get("limit"), 0)
	return page, limit
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, err
	}
	return value, nil
}
