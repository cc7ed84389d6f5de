package validation

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	v := New(zerolog.Nop())
	valid := uuid.New()

	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"canonical", valid.String(), true},
		{"uppercase", "A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11", true},
		{"nil uuid", uuid.Nil.String(), true},
		{"empty", "", false},
		{"compact", "a0eebc999c0b4ef8bb6d6bb9bd380a11", false},
		{"braced", "{a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11}", false},
		{"urn", "urn:uuid:a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", false},
		{"traversal", "../../etc/passwd", false},
		{"script", "<script>alert(1)</script>", false},
		{"quote", "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a1'", false},
		{"trailing text", valid.String() + "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := v.ValidateID(tt.raw, "channelId", "127.0.0.1")
			assert.Equal(t, tt.ok, ok)
			if !ok {
				assert.Equal(t, uuid.Nil, id)
			}
		})
	}
}

func TestValidateID_LogsSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	v := New(zerolog.New(&buf))

	_, ok := v.ValidateID("<img>", "channelId", "10.0.0.1")
	assert.False(t, ok)
	assert.Contains(t, buf.String(), `"type":"security"`)
	assert.Contains(t, buf.String(), `"event":"suspicious_identifier"`)
	assert.Contains(t, buf.String(), `"ip":"10.0.0.1"`)
}

func TestValidateID_MalformedIsNotSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	v := New(zerolog.New(&buf))

	for _, raw := range []string{"", "not-a-uuid", "1234"} {
		_, ok := v.ValidateID(raw, "channelId", "10.0.0.1")
		assert.False(t, ok)
	}
	assert.Contains(t, buf.String(), `"event":"invalid_identifier"`)
	assert.NotContains(t, buf.String(), `"type":"security"`)
}

func TestSuspicious(t *testing.T) {
	assert.True(t, Suspicious("a/b"))
	assert.True(t, Suspicious(`a\b`))
	assert.True(t, Suspicious(`"x"`))
	assert.False(t, Suspicious("plain-id-123"))
}
