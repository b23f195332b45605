/**
 * @description
 * This file contains custom middleware for the HTTP router. The agent's
 * callback routes carry a shared internal key; everything else is
 * authenticated per request by the RSA signature the service layer checks.
 *
 * @dependencies
 * - crypto/subtle, net/http, strings: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalKeyMiddleware guards the agent callback routes with a shared
// secret carried in the X-Internal-Api-Key header.
func InternalKeyMiddleware(internalKey string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(internalKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				http.Error(w, "Internal API not configured", http.StatusServiceUnavailable)
				return
			}
			presented := []byte(strings.TrimSpace(r.Header.Get("X-Internal-Api-Key")))
			if subtle.ConstantTimeCompare(expected, presented) != 1 {
				http.Error(w, "Invalid internal API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
