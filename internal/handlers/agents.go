package handlers

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatrelay/internal/agents"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// AttachAgentRequest attaches a remote agent runtime.
type AttachAgentRequest struct {
	ID          string            `json:"id"`
	Character   *models.Character `json:"character"`
	CallbackURL string            `json:"callbackUrl"`
}

// AgentResponse represents an agent in API responses.
type AgentResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Character   *models.Character `json:"character,omitempty"`
	CallbackURL string            `json:"callbackUrl,omitempty"`
	Registered  bool              `json:"registered"`
	JoinedAt    int64             `json:"joinedAt,omitempty"`
}

func toAgentResponse(h agents.Handle) AgentResponse {
	resp := AgentResponse{
		ID:         h.AgentID().String(),
		Character:  h.Character(),
		Registered: true,
	}
	if c := h.Character(); c != nil {
		resp.Name = c.Name
	}
	if hh, ok := h.(*agents.HTTPHandle); ok {
		resp.CallbackURL = hh.CallbackURL()
	}
	return resp
}

// ListAgents lists the runtimes registered with this process.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	handles := h.registry.List()
	out := make([]AgentResponse, len(handles))
	for i, a := range handles {
		out[i] = toAgentResponse(a)
	}
	h.JSON(w, http.StatusOK, map[string]any{"agents": out})
}

// AttachAgent registers a remote runtime that receives events on a
// callback URL.
func (h *Handler) AttachAgent(w http.ResponseWriter, r *http.Request) {
	var req AttachAgentRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Character == nil {
		h.Error(w, http.StatusBadRequest, "character is required")
		return
	}
	req.Character.Name = sanitizeName(req.Character.Name)
	if req.Character.Name == "" {
		h.Error(w, http.StatusBadRequest, "character.name is required")
		return
	}

	u, err := url.Parse(req.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		h.Error(w, http.StatusBadRequest, "callbackUrl must be an absolute http(s) URL")
		return
	}

	id := uuid.New()
	if req.ID != "" {
		var ok bool
		if id, ok = h.validator.ValidateID(req.ID, "agentId", r.RemoteAddr); !ok {
			h.Error(w, http.StatusBadRequest, "invalid agentId format")
			return
		}
	}

	handle := agents.NewHTTPHandle(id, req.Character, u.String(), nil)
	if err := h.registry.Register(r.Context(), handle); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, toAgentResponse(handle))
}

// GetAgent returns a stored agent and whether a runtime is attached.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := h.pathID(w, r, "agentId")
	if !ok {
		return
	}

	agent, err := h.store.GetAgent(r.Context(), agentID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if agent == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	resp := AgentResponse{
		ID:        agent.ID.String(),
		Name:      agent.Name,
		Character: agent.Character,
		JoinedAt:  formatMillis(agent.CreatedAt),
	}
	if handle, ok := h.registry.Lookup(agentID); ok {
		resp.Registered = true
		if hh, ok := handle.(*agents.HTTPHandle); ok {
			resp.CallbackURL = hh.CallbackURL()
		}
	}
	h.JSON(w, http.StatusOK, resp)
}

// DetachAgent stops and unregisters a runtime. The stored agent and its
// server associations are kept.
func (h *Handler) DetachAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := h.pathID(w, r, "agentId")
	if !ok {
		return
	}

	if _, ok := h.registry.Lookup(agentID); !ok {
		h.Error(w, http.StatusNotFound, "agent not registered")
		return
	}
	if err := h.registry.Unregister(r.Context(), agentID); err != nil {
		// The runtime is already out of the registry; a failed stop
		// notification is not the caller's problem.
		h.logger.Warn().Err(err).Str("agent_id", agentID.String()).Msg("agent stop failed")
	}
	w.WriteHeader(http.StatusNoContent)
}
