/**
 * @description
 * This file sets up the HTTP router for the app server. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the middleware stack. App-client routes are open at the transport level
 * because every mutating request carries its own RSA signature; the agent's
 * callback routes are guarded by the shared internal key.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the app clients.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the app server.
func Routes(h *AppHandlers, allowedOrigins string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(allowedOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// App-client endpoints. Authentication is per request: mutating calls
	// carry an RSA signature over their payload.
	r.Group(func(r chi.Router) {
		r.Post("/registrations", h.ApplyForAccountHandler)
		r.Get("/registrations/pending", h.PendingRegistrationsHandler)
		r.Get("/registrations/approval/result", h.RegistrationInfoHandler)
		r.Post("/registrations/approval", h.ApproveRegistrationHandler)
		r.Post("/registrations/approval/cancel", h.CancelRegistrationHandler)

		r.Get("/accounts/list", h.EmployeeListHandler)
		r.Get("/accounts/info", h.EmployeeDetailHandler)
		r.Get("/employee/pubkeys/list", h.EmployeeKeyListHandler)
		r.Get("/employee/pubkeys/info", h.EmployeeKeyHandler)
		r.Post("/employee/account/change", h.ChangeEmployeeHandler)

		r.Post("/business/flow", h.CreateFlowHandler)
		r.Get("/business/flows/list", h.FlowListHandler)
		r.Get("/business/flow/info", h.FlowDetailHandler)

		r.Post("/transfer/application", h.SubmitTransferHandler)
		r.Post("/transfer/approval", h.ApproveTransferHandler)
		r.Get("/transfer/records/list", h.TransferListHandler)
		r.Get("/transfer/records", h.TransferDetailHandler)

		r.Get("/capital/balance", h.BalanceHandler)
		r.Get("/capital/currency/list", h.CurrencyListHandler)
		r.Get("/capital/trade/history/list", h.TradeHistoryHandler)
	})

	// Agent callback endpoints, guarded by the shared internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(h.internalKey))

		r.Post("/capital/deposit", h.DepositHandler)
		r.Post("/capital/withdraw/id", h.WithdrawBroadcastHandler)
		r.Post("/capital/withdraw", h.WithdrawSettledHandler)
		r.Post("/capital/currency/add", h.CurrencyAddHandler)
		r.Post("/registrations/admin/approval", h.AdminApproveRegistrationHandler)
	})

	return r
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
