package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/gateway"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID                 string         `json:"id"`
	ChannelID          string         `json:"channelId"`
	AuthorID           string         `json:"authorId"`
	Content            string         `json:"content"`
	SourceType         string         `json:"sourceType,omitempty"`
	SourceID           string         `json:"sourceId,omitempty"`
	InReplyToMessageID string         `json:"inReplyToMessageId,omitempty"`
	RawMessage         map[string]any `json:"rawMessage,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          int64          `json:"createdAt"`
}

// ChannelMessagesResponse represents a page of channel history, newest first.
type ChannelMessagesResponse struct {
	ChannelID string            `json:"channelId"`
	Messages  []MessageResponse `json:"messages"`
	HasMore   bool              `json:"hasMore"`
}

// MessageDeleted notifies channel members of a removed message.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

// ChannelCleared notifies channel members that history was wiped.
type ChannelCleared struct {
	ChannelID string `json:"channelId"`
}

func toMessageResponse(m *models.Message) MessageResponse {
	resp := MessageResponse{
		ID:         m.ID.String(),
		ChannelID:  m.ChannelID.String(),
		AuthorID:   m.AuthorID,
		Content:    m.Content,
		SourceType: m.SourceType,
		SourceID:   m.SourceID,
		RawMessage: m.RawMessage,
		Metadata:   m.Metadata,
		CreatedAt:  formatMillis(m.CreatedAt),
	}
	if m.InReplyToRootMessageID != nil {
		resp.InReplyToMessageID = m.InReplyToRootMessageID.String()
	}
	return resp
}

// GetChannelMessages returns channel history newest first. "before" is a
// millisecond timestamp; only strictly older messages are returned.
func (h *Handler) GetChannelMessages(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	// Parse query params
	limitStr := r.URL.Query().Get("limit")
	beforeStr := r.URL.Query().Get("before")

	limit := defaultHistoryLimit
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var before *time.Time
	if beforeStr != "" {
		b, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil || b <= 0 {
			h.Error(w, http.StatusBadRequest, "before must be a millisecond timestamp")
			return
		}
		t := time.UnixMilli(b)
		before = &t
	}

	// Fetch one extra row for the has-more check
	messages, err := h.store.GetMessagesForChannel(r.Context(), ch.ID, limit+1, before)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	out := make([]MessageResponse, len(messages))
	for i := range messages {
		out[i] = toMessageResponse(&messages[i])
	}
	h.JSON(w, http.StatusOK, ChannelMessagesResponse{
		ChannelID: ch.ID.String(),
		Messages:  out,
		HasMore:   hasMore,
	})
}

// ClearChannelMessages deletes a channel's history and notifies members
// and agents.
func (h *Handler) ClearChannelMessages(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	if err := h.store.ClearChannelMessages(r.Context(), ch.ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	if h.gateway != nil {
		h.gateway.BroadcastToChannel(ch.ID, gateway.EventChannelCleared, ChannelCleared{ChannelID: ch.ID.String()})
	}
	h.bus.Emit(bus.ChannelCleared, bus.ChannelClearedPayload{
		ChannelID: ch.ID,
		ServerID:  ch.MessageServerID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage deletes one message and notifies members and agents.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "messageId")
	if !ok {
		return
	}

	msg, err := h.store.GetMessage(r.Context(), messageID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if msg == nil || msg.ChannelID != ch.ID {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	if err := h.store.DeleteMessage(r.Context(), messageID); err != nil {
		h.Fail(w, r, err)
		return
	}

	if h.gateway != nil {
		h.gateway.BroadcastToChannel(ch.ID, gateway.EventMessageDeleted, MessageDeleted{
			MessageID: messageID.String(),
			ChannelID: ch.ID.String(),
		})
	}
	h.bus.Emit(bus.MessageDeleted, bus.MessageDeletedPayload{
		MessageID: messageID,
		ChannelID: ch.ID,
		ServerID:  ch.MessageServerID,
	})
	w.WriteHeader(http.StatusNoContent)
}
