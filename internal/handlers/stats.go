package handlers

import (
	"net/http"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Connections      int            `json:"connections"`
	RegisteredAgents int            `json:"registeredAgents"`
	Servers          int            `json:"servers"`
	Channels         int            `json:"channels"`
	BusListeners     map[string]int `json:"busListeners"`
	Uptime           string         `json:"uptime"`
}

// Stats returns a snapshot of live routing state.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	servers, err := h.store.GetServers(ctx)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	channels := 0
	for _, s := range servers {
		chs, err := h.store.GetChannelsForServer(ctx, s.ID)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		channels += len(chs)
	}

	listeners := make(map[string]int)
	for _, event := range h.bus.Events() {
		listeners[event] = h.bus.ListenerCount(event)
	}

	connections := 0
	if h.gateway != nil {
		connections = h.gateway.SessionCount()
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		Connections:      connections,
		RegisteredAgents: len(h.registry.List()),
		Servers:          len(servers),
		Channels:         channels,
		BusListeners:     listeners,
		Uptime:           formatUptime(time.Since(h.started)),
	})
}

// formatUptime formats a duration as a coarse human-readable string.
func formatUptime(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just started"
	case d < time.Hour:
		return d.Truncate(time.Minute).String()
	case d < 24*time.Hour:
		return d.Truncate(time.Hour).String()
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return formatInt(days) + " days"
	}
}

// formatInt converts an int to string without importing strconv.
func formatInt(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
