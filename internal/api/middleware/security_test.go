package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	rec.Header().Set("Server", "x")
	rec.Header().Set("X-Powered-By", "x")
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Server"))
	assert.Empty(t, rec.Header().Get("X-Powered-By"))
}

func TestSuspiciousRequest(t *testing.T) {
	cases := []struct {
		name   string
		target string
		ua     string
		want   string
	}{
		{"clean", "/api/servers?limit=10", "curl/8.0", ""},
		{"long user agent", "/api", strings.Repeat("a", maxUserAgentLength+1), "oversized_user_agent"},
		{"script user agent", "/api", "<script>alert(1)</script>", "script_in_user_agent"},
		{"traversal", "/api/../etc/passwd", "curl", "path_traversal"},
		{"markup in query", "/api?q=%3Cscript%3E", "curl", "markup_in_query"},
		{"sql in query", "/api?q=1%20UNION%20SELECT%20password", "curl", "sql_in_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path, req.URL.RawQuery, _ = strings.Cut(tc.target, "?")
			req.Header.Set("User-Agent", tc.ua)
			assert.Equal(t, tc.want, suspiciousRequest(req))
		})
	}
}

func TestSecurityMonitor_LogsWithoutBlocking(t *testing.T) {
	var buf bytes.Buffer
	h := SecurityMonitor(zerolog.New(&buf))(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api?q=%3Cscript%3E", nil)
	rec := serve(h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"event":"suspicious_request"`)
	assert.Contains(t, buf.String(), `"type":"security"`)
}

func TestRequireJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/servers", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnsupportedMediaType, serve(RequireJSON(okHandler), req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/servers", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	assert.Equal(t, http.StatusOK, serve(RequireJSON(okHandler), req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	assert.Equal(t, http.StatusOK, serve(RequireJSON(okHandler), req).Code)
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 16)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, serve(h, req).Code)

	// Unknown length is cut off while reading
	req = httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader(strings.Repeat("x", 16))))
	req.ContentLength = -1
	serve(h, req)
	require.Error(t, readErr)
}

func TestRequireAPIKey(t *testing.T) {
	h := RequireAPIKey("s3cret", zerolog.Nop())(okHandler)

	assert.Equal(t, http.StatusUnauthorized, serve(h, request("192.0.2.1:1", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, request("192.0.2.1:1", map[string]string{APIKeyHeader: "wrong"})).Code)
	assert.Equal(t, http.StatusOK, serve(h, request("192.0.2.1:1", map[string]string{APIKeyHeader: "s3cret"})).Code)

	// The query token is only honored on websocket upgrades
	req := httptest.NewRequest(http.MethodGet, "/ws?token=s3cret", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/ws?token=s3cret", nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestRequireAPIKey_DisabledWithoutToken(t *testing.T) {
	h := RequireAPIKey("", zerolog.Nop())(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, request("192.0.2.1:1", nil)).Code)
}

func TestNormalizePath_UsesRoutePattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			got = normalizePath(req)
		})
	})
	r.Get("/api/channels/{channelId}", func(w http.ResponseWriter, r *http.Request) {})

	serve(r, httptest.NewRequest(http.MethodGet, "/api/channels/123", nil))
	assert.Equal(t, "/api/channels/{channelId}", got)

	assert.Equal(t, "unmatched", normalizePath(httptest.NewRequest(http.MethodGet, "/nope", nil)))
}
