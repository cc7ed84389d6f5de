package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// Limit is an independent rate limit family.
type Limit struct {
	Family   string
	Requests int
	Window   time.Duration
}

// Route group families.
var (
	APILimit               = Limit{"api", 1000, 15 * time.Minute}
	ChannelValidationLimit = Limit{"channel_validation", 200, 5 * time.Minute}
	MessagesLimit          = Limit{"messages", 300, time.Minute}
	WebSocketLimit         = Limit{"websocket", 60, time.Minute}
)

const (
	violationWindow    = time.Hour
	violationThreshold = 10
	autoBlockDuration  = 24 * time.Hour
)

// Backend stores sliding windows, violation counters and IP blocks.
// store.RedisStore and MemoryBackend implement it.
type Backend interface {
	Hit(ctx context.Context, family, identity string, window time.Duration) (int64, time.Time, error)
	IncrViolations(ctx context.Context, ip string, ttl time.Duration) (int64, error)
	IsBlocked(ctx context.Context, ip string) bool
	Block(ctx context.Context, ip string, duration time.Duration, reason string) error
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// RateLimiter implements sliding window rate limiting.
type RateLimiter struct {
	backend          Backend
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	whitelistIPs     map[string]bool
	autoBlockEnabled bool
}

// NewRateLimiter creates a new rate limiter. A nil backend keeps the
// windows in process memory.
func NewRateLimiter(backend Backend, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	rl := &RateLimiter{
		backend:          backend,
		logger:           logger,
		whitelistIPs:     make(map[string]bool),
		autoBlockEnabled: cfg.AutoBlockEnabled,
	}

	// Parse whitelist entries
	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			// CIDR notation
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			// Single IP
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	// Check exact IP match
	if rl.whitelistIPs[ipStr] {
		return true
	}

	// Check CIDR ranges
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// identity returns the rate limit identity of a request: the client IP,
// qualified by the API key when one is presented. The server token is shared
// by every client, so a key alone never identifies a caller. Keys are hashed
// so they never reach the backend in clear.
func identity(r *http.Request) string {
	ip := "ip:" + RealIP(r)
	if key := r.Header.Get(APIKeyHeader); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(sum[:8]) + ":" + ip
	}
	return ip
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	// Check Fly.io header first
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	// Then X-Forwarded-For
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	// Then X-Real-IP
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	// Fallback to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement records a request against a family.
// Returns (allowed, remaining, resetAt). Backend failures fail open.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, l Limit, id string) (bool, int, time.Time) {
	now := time.Now()
	count, oldest, err := rl.backend.Hit(ctx, l.Family, id, l.Window)
	if err != nil {
		rl.logger.Error().Err(err).Str("family", l.Family).Msg("rate limit backend failed")
		return true, l.Requests, now.Add(l.Window)
	}

	remaining := l.Requests - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}

	resetAt := oldest.Add(l.Window)
	allowed := count < int64(l.Requests)

	return allowed, remaining, resetAt
}

// Limit returns middleware enforcing one family.
func (rl *RateLimiter) Limit(l Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := RealIP(r)

			// Skip rate limiting for whitelisted IPs
			if rl.isWhitelisted(ip) {
				next.ServeHTTP(w, r)
				return
			}

			// Check IP block first
			if rl.backend.IsBlocked(r.Context(), ip) {
				metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
				rl.logger.Warn().
					Str("type", "security").
					Str("event", "blocked_request").
					Str("ip", ip).
					Str("endpoint", r.URL.Path).
					Msg("blocked IP attempted request")
				writeJSONError(w, http.StatusForbidden, "temporarily blocked")
				return
			}

			id := identity(r)
			allowed, remaining, resetAt := rl.CheckAndIncrement(r.Context(), l, id)

			// Set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retry := int(time.Until(resetAt).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))

				metrics.RateLimitHits.WithLabelValues(l.Family).Inc()
				rl.trackViolation(r.Context(), ip)

				rl.logger.Warn().
					Str("type", "security").
					Str("event", "rate_limit_exceeded").
					Str("ip", ip).
					Str("family", l.Family).
					Str("endpoint", r.URL.Path).
					Str("identity", id).
					Msg("rate limit exceeded")

				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// trackViolation tracks rate limit violations and auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	count, err := rl.backend.IncrViolations(ctx, ip, violationWindow)
	if err != nil {
		rl.logger.Error().Err(err).Str("ip", ip).Msg("failed to track violation")
		return
	}

	if count >= violationThreshold {
		if err := rl.backend.Block(ctx, ip, autoBlockDuration, "repeated rate limit violations"); err != nil {
			rl.logger.Error().Err(err).Str("ip", ip).Msg("failed to block ip")
			return
		}
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
