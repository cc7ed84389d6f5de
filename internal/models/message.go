package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a persisted channel message. Messages are never mutated after
// creation.
type Message struct {
	ID                     uuid.UUID      `json:"id"`
	ChannelID              uuid.UUID      `json:"channel_id"`
	AuthorID               string         `json:"author_id"`
	Content                string         `json:"content"`
	RawMessage             map[string]any `json:"raw_message,omitempty"`
	SourceID               string         `json:"source_id,omitempty"`
	SourceType             string         `json:"source_type,omitempty"`
	InReplyToRootMessageID *uuid.UUID     `json:"in_reply_to_root_message_id,omitempty"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
}
