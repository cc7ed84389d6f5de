package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// APIKeyHeader carries the shared server token.
const APIKeyHeader = "X-API-KEY"

// RequireAPIKey rejects requests that do not present the server token in
// the X-API-KEY header. Websocket upgrades cannot set headers from a
// browser, so they may pass it as the "token" query parameter instead.
// An empty token disables the check.
func RequireAPIKey(token string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" && isWebSocketUpgrade(r) {
				got = r.URL.Query().Get("token")
			}

			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.Warn().
					Str("type", "security").
					Str("event", "auth_failed").
					Str("ip", RealIP(r)).
					Str("endpoint", r.URL.Path).
					Bool("key_present", got != "").
					Msg("unauthorized request")
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		headerContainsToken(r.Header, "Upgrade", "websocket")
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
