// Package validation checks identifiers arriving from remote callers before
// they reach the store.
package validation

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// uuidPattern is the canonical 8-4-4-4-12 hex form. uuid.Parse alone also
// accepts braces, urn: prefixes and the 32-char compact form.
var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var forbidden = []string{"..", "<", ">", `"`, "'", `\`, "/"}

// Validator checks identifiers and records every rejection.
type Validator struct {
	logger zerolog.Logger
}

// New creates a validator that logs rejections to logger.
func New(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger.With().Str("component", "validation").Logger()}
}

// ValidateID parses raw as a canonical UUID. kind names the identifier
// (channelId, serverId, ...) in logs; remoteAddr is the caller's address.
func (v *Validator) ValidateID(raw, kind, remoteAddr string) (uuid.UUID, bool) {
	if raw == "" {
		v.reject(raw, kind, remoteAddr, "empty")
		return uuid.Nil, false
	}
	if Suspicious(raw) {
		metrics.ValidationRejections.WithLabelValues(kind).Inc()
		v.logger.Warn().
			Str("type", "security").
			Str("event", "suspicious_identifier").
			Str("kind", kind).
			Str("ip", remoteAddr).
			Str("value", truncate(raw, 64)).
			Msg("identifier contains forbidden characters")
		return uuid.Nil, false
	}
	if !uuidPattern.MatchString(raw) {
		v.reject(raw, kind, remoteAddr, "malformed")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		v.reject(raw, kind, remoteAddr, "unparsable")
		return uuid.Nil, false
	}
	return id, true
}

func (v *Validator) reject(raw, kind, remoteAddr, reason string) {
	metrics.ValidationRejections.WithLabelValues(kind).Inc()
	v.logger.Debug().
		Str("event", "invalid_identifier").
		Str("kind", kind).
		Str("reason", reason).
		Str("ip", remoteAddr).
		Str("value", truncate(raw, 64)).
		Msg("identifier rejected")
}

// Suspicious reports whether s contains a traversal sequence or markup
// and quoting characters.
func Suspicious(s string) bool {
	for _, f := range forbidden {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
