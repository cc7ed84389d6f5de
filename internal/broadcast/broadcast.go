// Package broadcast fans events out to the members of a channel group.
package broadcast

import (
	"sort"
	"sync"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// Subscriber is a connection that can receive events.
type Subscriber interface {
	ID() string
	Send(event string, payload any) error
}

// Hub tracks which subscribers belong to which groups.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[string]Subscriber
	members map[string]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		groups:  make(map[string]map[string]Subscriber),
		members: make(map[string]map[string]struct{}),
	}
}

// Join adds sub to group. Joining twice is a no-op.
func (h *Hub) Join(sub Subscriber, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[group]
	if !ok {
		g = make(map[string]Subscriber)
		h.groups[group] = g
	}
	g[sub.ID()] = sub

	m, ok := h.members[sub.ID()]
	if !ok {
		m = make(map[string]struct{})
		h.members[sub.ID()] = m
	}
	m[group] = struct{}{}
}

// Leave removes sub from group.
func (h *Hub) Leave(sub Subscriber, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub.ID(), group)
}

// LeaveAll removes sub from every group and returns the groups it left.
func (h *Hub) LeaveAll(sub Subscriber) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []string
	for group := range h.members[sub.ID()] {
		left = append(left, group)
	}
	for _, group := range left {
		h.leaveLocked(sub.ID(), group)
	}
	sort.Strings(left)
	return left
}

func (h *Hub) leaveLocked(id, group string) {
	if g, ok := h.groups[group]; ok {
		delete(g, id)
		if len(g) == 0 {
			delete(h.groups, group)
		}
	}
	if m, ok := h.members[id]; ok {
		delete(m, group)
		if len(m) == 0 {
			delete(h.members, id)
		}
	}
}

// Broadcast sends event to every member of group and returns how many
// members accepted it. Send failures are left to the subscriber to handle.
func (h *Hub) Broadcast(group, event string, payload any) int {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.groups[group]))
	for _, sub := range h.groups[group] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(event, payload); err == nil {
			delivered++
		}
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	return delivered
}

// BroadcastMany sends event once to every subscriber that belongs to at
// least one of groups.
func (h *Hub) BroadcastMany(groups []string, event string, payload any) int {
	h.mu.RLock()
	seen := make(map[string]bool)
	var targets []Subscriber
	for _, group := range groups {
		for id, sub := range h.groups[group] {
			if !seen[id] {
				seen[id] = true
				targets = append(targets, sub)
			}
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(event, payload); err == nil {
			delivered++
		}
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	return delivered
}

// Members returns the subscriber ids of group in sorted order.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Groups returns the groups sub belongs to in sorted order.
func (h *Hub) Groups(sub Subscriber) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.members[sub.ID()]))
	for group := range h.members[sub.ID()] {
		out = append(out, group)
	}
	sort.Strings(out)
	return out
}

// IsMember reports whether sub belongs to group.
func (h *Hub) IsMember(sub Subscriber, group string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.groups[group][sub.ID()]
	return ok
}
