package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	ID              string             `json:"id"`
	MessageServerID string             `json:"messageServerId"`
	Name            string             `json:"name"`
	Type            models.ChannelType `json:"type"`
	SourceType      string             `json:"sourceType,omitempty"`
	SourceID        string             `json:"sourceId,omitempty"`
	Topic           string             `json:"topic,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	CreatedAt       int64              `json:"createdAt"`
	UpdatedAt       int64              `json:"updatedAt"`
	Participants    []string           `json:"participants,omitempty"`
}

// CreateChannelRequest represents the channel creation request.
type CreateChannelRequest struct {
	ID              string             `json:"id"`
	MessageServerID string             `json:"messageServerId"`
	Name            string             `json:"name"`
	Type            models.ChannelType `json:"type"`
	SourceType      string             `json:"sourceType"`
	SourceID        string             `json:"sourceId"`
	Topic           string             `json:"topic"`
	Metadata        map[string]any     `json:"metadata"`
	ParticipantIDs  []string           `json:"participantIds"`
}

// ParticipantsRequest adds participants to a channel.
type ParticipantsRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

func toChannelResponse(ch *models.Channel) ChannelResponse {
	return ChannelResponse{
		ID:              ch.ID.String(),
		MessageServerID: ch.MessageServerID.String(),
		Name:            ch.Name,
		Type:            ch.Type,
		SourceType:      ch.SourceType,
		SourceID:        ch.SourceID,
		Topic:           ch.Topic,
		Metadata:        ch.Metadata,
		CreatedAt:       formatMillis(ch.CreatedAt),
		UpdatedAt:       formatMillis(ch.UpdatedAt),
	}
}

// CreateChannel creates a channel with optional initial participants.
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if !h.decode(w, r, &req) {
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type == "" {
		req.Type = models.ChannelTypeGroup
	}
	if !req.Type.Valid() {
		h.Error(w, http.StatusBadRequest, "invalid channel type")
		return
	}

	serverID := ids.DefaultServerID
	if req.MessageServerID != "" {
		var ok bool
		if serverID, ok = h.validator.ValidateID(req.MessageServerID, "messageServerId", r.RemoteAddr); !ok {
			h.Error(w, http.StatusBadRequest, "invalid messageServerId format")
			return
		}
	}

	var channelID uuid.UUID
	if req.ID != "" {
		var ok bool
		if channelID, ok = h.validator.ValidateID(req.ID, "channelId", r.RemoteAddr); !ok {
			h.Error(w, http.StatusBadRequest, "invalid channelId format")
			return
		}
	}

	ch, err := h.store.CreateChannel(r.Context(), &models.Channel{
		ID:              channelID,
		MessageServerID: serverID,
		Name:            req.Name,
		Type:            req.Type,
		SourceType:      req.SourceType,
		SourceID:        req.SourceID,
		Topic:           req.Topic,
		Metadata:        req.Metadata,
	}, req.ParticipantIDs)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	resp := toChannelResponse(ch)
	resp.Participants, err = h.store.GetChannelParticipants(r.Context(), ch.ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, resp)
}

// GetChannel returns a channel with its participants.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	participants, err := h.store.GetChannelParticipants(r.Context(), ch.ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	resp := toChannelResponse(ch)
	resp.Participants = participants
	h.JSON(w, http.StatusOK, resp)
}

// DeleteChannel removes a channel with its messages and participants.
func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteChannel(r.Context(), ch.ID); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListParticipants lists the participants of a channel.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	participants, err := h.store.GetChannelParticipants(r.Context(), ch.ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"channelId":    ch.ID.String(),
		"participants": participants,
	})
}

// AddParticipants adds participants to a channel. Existing ones are kept.
func (h *Handler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	channelID, ok := h.pathID(w, r, "channelId")
	if !ok {
		return
	}
	var req ParticipantsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.ParticipantIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "participantIds is required")
		return
	}

	if err := h.store.AddParticipantsToChannel(r.Context(), channelID, req.ParticipantIDs); err != nil {
		h.Fail(w, r, err)
		return
	}

	participants, err := h.store.GetChannelParticipants(r.Context(), channelID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"channelId":    channelID.String(),
		"participants": participants,
	})
}

// channel loads the channel named by the channelId route parameter.
func (h *Handler) channel(w http.ResponseWriter, r *http.Request) (*models.Channel, bool) {
	channelID, ok := h.pathID(w, r, "channelId")
	if !ok {
		return nil, false
	}

	ch, err := h.store.GetChannelDetails(r.Context(), channelID)
	if err != nil {
		h.Fail(w, r, err)
		return nil, false
	}
	if ch == nil {
		h.Error(w, http.StatusNotFound, "channel not found")
		return nil, false
	}
	return ch, true
}
