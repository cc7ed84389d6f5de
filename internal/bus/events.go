package bus

import (
	"github.com/google/uuid"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// Routable payloads name the channel they concern so subscribers can
// resolve the agents that should see them.
type Routable interface {
	Route() (channelID, serverID uuid.UUID, authorID string)
}

// EntityJoinedPayload is emitted when a connection joins a channel on
// behalf of an entity.
type EntityJoinedPayload struct {
	EntityID string         `json:"entityId"`
	WorldID  uuid.UUID      `json:"worldId"`
	RoomID   uuid.UUID      `json:"roomId"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (p EntityJoinedPayload) Route() (uuid.UUID, uuid.UUID, string) {
	return p.RoomID, p.WorldID, p.EntityID
}

// MessagePayload is emitted once a message has been persisted and
// broadcast.
type MessagePayload struct {
	Message     *models.Message    `json:"message"`
	ServerID    uuid.UUID          `json:"serverId"`
	ChannelType models.ChannelType `json:"channelType"`
	SenderName  string             `json:"senderName,omitempty"`
}

func (p MessagePayload) Route() (uuid.UUID, uuid.UUID, string) {
	return p.Message.ChannelID, p.ServerID, p.Message.AuthorID
}

// MessageDeletedPayload is emitted when a message is removed.
type MessageDeletedPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	ChannelID uuid.UUID `json:"channelId"`
	ServerID  uuid.UUID `json:"serverId"`
}

func (p MessageDeletedPayload) Route() (uuid.UUID, uuid.UUID, string) {
	return p.ChannelID, p.ServerID, ""
}

// ChannelClearedPayload is emitted when a channel's history is wiped.
type ChannelClearedPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	ServerID  uuid.UUID `json:"serverId"`
}

func (p ChannelClearedPayload) Route() (uuid.UUID, uuid.UUID, string) {
	return p.ChannelID, p.ServerID, ""
}
