package handlers

import (
	"net/http"

	"github.com/eldtechnologies/chatrelay/internal/ids"
)

// GetDMChannel finds or creates the DM channel between two users.
// The pair is unordered: swapping the users returns the same channel.
func (h *Handler) GetDMChannel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	current := sanitizeName(q.Get("currentUserId"))
	target := sanitizeName(q.Get("targetUserId"))
	if current == "" || target == "" {
		h.Error(w, http.StatusBadRequest, "currentUserId and targetUserId are required")
		return
	}

	serverID := ids.DefaultServerID
	if raw := q.Get("serverId"); raw != "" {
		var ok bool
		if serverID, ok = h.validator.ValidateID(raw, "serverId", r.RemoteAddr); !ok {
			h.Error(w, http.StatusBadRequest, "invalid serverId format")
			return
		}
	}

	ch, err := h.store.FindOrCreateCentralDmChannel(r.Context(), current, target, serverID)
	if err != nil {
		h.Fail(w, r, err)
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
