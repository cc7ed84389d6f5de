package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

const maxUserAgentLength = 512

var (
	scriptPattern = regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|svg)|javascript:|vbscript:|on(load|error|click|mouseover)\s*=`)
	sqlPattern    = regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|select\s+.+\s+from|insert\s+into|delete\s+from|drop\s+(table|database)|update\s+\w+\s+set)\b|--|;\s*shutdown`)
)

// SecurityHeaders adds security headers to all responses and removes
// headers that identify the server software.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Del("Server")
		h.Del("X-Powered-By")

		next.ServeHTTP(w, r)
	})
}

// SecurityMonitor logs requests that look like probing. It never blocks;
// the rate limiter and validation decide what is rejected.
func SecurityMonitor(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reason := suspiciousRequest(r); reason != "" {
				logger.Warn().
					Str("type", "security").
					Str("event", "suspicious_request").
					Str("reason", reason).
					Str("ip", RealIP(r)).
					Str("method", r.Method).
					Str("endpoint", r.URL.Path).
					Msg("suspicious request pattern")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// suspiciousRequest names the first suspicious pattern found in r.
func suspiciousRequest(r *http.Request) string {
	ua := r.UserAgent()
	switch {
	case len(ua) > maxUserAgentLength:
		return "oversized_user_agent"
	case scriptPattern.MatchString(ua):
		return "script_in_user_agent"
	case strings.Contains(r.URL.Path, "..") || strings.Contains(r.URL.RawQuery, ".."):
		return "path_traversal"
	}

	query := r.URL.RawQuery
	if unescaped, err := url.QueryUnescape(query); err == nil {
		query = unescaped
	}
	switch {
	case scriptPattern.MatchString(query):
		return "markup_in_query"
	case sqlPattern.MatchString(r.URL.Path) || sqlPattern.MatchString(query):
		return "sql_in_url"
	}
	return ""
}

// RequireJSON rejects write requests whose body is not JSON.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			// Allow empty body with no content-type
			if r.ContentLength > 0 && !strings.HasPrefix(ct, "application/json") {
				jsonError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodySize limits request body size.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
