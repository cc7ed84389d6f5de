package store

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatrelay/internal/apperr"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

var errMissingDMUser = apperr.Validation("both user ids are required for a DM channel")

// encodeJSON serializes metadata-like values for storage. Nil maps and
// slices are stored as empty JSON documents.
func encodeJSON(v any) string {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return "{}"
		}
	case []string:
		if t == nil {
			return "[]"
		}
	case *models.Character:
		if t == nil {
			return "{}"
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeMap(s string) map[string]any {
	m := map[string]any{}
	if s == "" {
		return m
	}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func decodeCharacter(s string) *models.Character {
	if s == "" || s == "{}" {
		return nil
	}
	var c models.Character
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil
	}
	return &c
}

// newDMChannel builds the row for a fresh DM channel between two users.
func newDMChannel(userA, userB string, serverID uuid.UUID) *models.Channel {
	ch := &models.Channel{
		ID:              uuid.New(),
		MessageServerID: serverID,
		Name:            "DM " + shortID(userA) + "-" + shortID(userB),
		Type:            models.ChannelTypeDM,
		Metadata: map[string]any{
			"user1": userA,
			"user2": userB,
		},
	}
	normalizeChannel(ch)
	return ch
}

func shortID(id string) string {
	if utf8.RuneCountInString(id) <= 8 {
		return id
	}
	return string([]rune(id)[:8])
}
