package models

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType classifies a channel.
type ChannelType string

const (
	ChannelTypeGroup  ChannelType = "group"
	ChannelTypeDM     ChannelType = "dm"
	ChannelTypeFeed   ChannelType = "feed"
	ChannelTypeThread ChannelType = "thread"
	ChannelTypeVoice  ChannelType = "voice"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTypeGroup, ChannelTypeDM, ChannelTypeFeed, ChannelTypeThread, ChannelTypeVoice:
		return true
	}
	return false
}

// Server is the workspace that owns channels and agent associations.
type Server struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Channel is a conversation scope holding messages and participants.
type Channel struct {
	ID              uuid.UUID      `json:"id"`
	MessageServerID uuid.UUID      `json:"message_server_id"`
	Name            string         `json:"name"`
	Type            ChannelType    `json:"type"`
	SourceType      string         `json:"source_type,omitempty"`
	SourceID        string         `json:"source_id,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
