package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// ServerResponse represents a message server in API responses.
type ServerResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourceType string         `json:"sourceType,omitempty"`
	SourceID   string         `json:"sourceId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
}

// CreateServerRequest represents the server creation request.
type CreateServerRequest struct {
	Name       string         `json:"name"`
	SourceType string         `json:"sourceType"`
	SourceID   string         `json:"sourceId"`
	Metadata   map[string]any `json:"metadata"`
}

// AssociateAgentRequest associates an agent with a server.
type AssociateAgentRequest struct {
	AgentID string `json:"agentId"`
}

func toServerResponse(s *models.Server) ServerResponse {
	return ServerResponse{
		ID:         s.ID.String(),
		Name:       s.Name,
		SourceType: s.SourceType,
		SourceID:   s.SourceID,
		Metadata:   s.Metadata,
		CreatedAt:  s.CreatedAt.UnixMilli(),
	}
}

// ListServers lists all message servers.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.GetServers(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	out := make([]ServerResponse, len(servers))
	for i := range servers {
		out[i] = toServerResponse(&servers[i])
	}
	h.JSON(w, http.StatusOK, map[string]any{"servers": out})
}

// CreateServer creates a message server.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req CreateServerRequest
	if !h.decode(w, r, &req) {
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	server, err := h.store.CreateServer(r.Context(), &models.Server{
		Name:       req.Name,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, toServerResponse(server))
}

// ServerChannels lists the channels of a server.
func (h *Handler) ServerChannels(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.pathID(w, r, "serverId")
	if !ok {
		return
	}
	if !h.serverExists(w, r, serverID) {
		return
	}

	channels, err := h.store.GetChannelsForServer(r.Context(), serverID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	out := make([]ChannelResponse, len(channels))
	for i := range channels {
		out[i] = toChannelResponse(&channels[i])
	}
	h.JSON(w, http.StatusOK, map[string]any{"channels": out})
}

// ServerAgents lists the agents associated with a server.
func (h *Handler) ServerAgents(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.pathID(w, r, "serverId")
	if !ok {
		return
	}

	agentIDs, err := h.store.GetAgentsForServer(r.Context(), serverID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"serverId": serverID.String(),
		"agents":   uuidStrings(agentIDs),
	})
}

// AddServerAgent associates an agent with a server.
func (h *Handler) AddServerAgent(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.pathID(w, r, "serverId")
	if !ok {
		return
	}
	var req AssociateAgentRequest
	if !h.decode(w, r, &req) {
		return
	}
	agentID, ok := h.validator.ValidateID(req.AgentID, "agentId", r.RemoteAddr)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid agentId format")
		return
	}

	if err := h.store.AddAgentToServer(r.Context(), serverID, agentID); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, map[string]any{
		"serverId": serverID.String(),
		"agentId":  agentID.String(),
	})
}

// RemoveServerAgent removes an agent association.
func (h *Handler) RemoveServerAgent(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.pathID(w, r, "serverId")
	if !ok {
		return
	}
	agentID, ok := h.pathID(w, r, "agentId")
	if !ok {
		return
	}

	if err := h.store.RemoveAgentFromServer(r.Context(), serverID, agentID); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AgentServers lists the servers an agent is associated with.
func (h *Handler) AgentServers(w http.ResponseWriter, r *http.Request) {
	agentID, ok := h.pathID(w, r, "agentId")
	if !ok {
		return
	}

	serverIDs, err := h.store.GetServersForAgent(r.Context(), agentID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"agentId": agentID.String(),
		"servers": uuidStrings(serverIDs),
	})
}

func (h *Handler) serverExists(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	server, err := h.store.GetServer(r.Context(), id)
	if err != nil {
		h.Fail(w, r, err)
		return false
	}
	if server == nil {
		h.Error(w, http.StatusNotFound, "message server not found")
		return false
	}
	return true
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func formatMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
