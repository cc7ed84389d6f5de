package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// Lifecycle events sent to remote runtimes in addition to bus events.
const (
	EventAgentRegistered = "AGENT_REGISTERED"
	EventAgentStopped    = "AGENT_STOPPED"
)

var ErrHandleStopped = errors.New("agent runtime stopped")

// Delivery is the JSON body POSTed to a remote runtime.
type Delivery struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	AgentID   uuid.UUID `json:"agentId"`
	Timestamp int64     `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// HTTPHandle is a runtime living in another process that receives events
// on a callback URL.
type HTTPHandle struct {
	id          uuid.UUID
	character   *models.Character
	callbackURL string
	client      *http.Client
	stopped     atomic.Bool
}

// NewHTTPHandle creates a handle for a remote runtime. A nil client gets a
// default one with a 10 second timeout.
func NewHTTPHandle(id uuid.UUID, character *models.Character, callbackURL string, client *http.Client) *HTTPHandle {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPHandle{
		id:          id,
		character:   character,
		callbackURL: callbackURL,
		client:      client,
	}
}

func (h *HTTPHandle) AgentID() uuid.UUID           { return h.id }
func (h *HTTPHandle) Character() *models.Character { return h.character }
func (h *HTTPHandle) CallbackURL() string          { return h.callbackURL }

// RegisterPlugin confirms the callback is reachable.
func (h *HTTPHandle) RegisterPlugin(ctx context.Context) error {
	return h.post(ctx, EventAgentRegistered, h.character)
}

// Stop notifies the runtime and rejects further events. Notification
// failures are ignored.
func (h *HTTPHandle) Stop(ctx context.Context) error {
	if h.stopped.Swap(true) {
		return nil
	}
	_ = h.post(ctx, EventAgentStopped, nil)
	return nil
}

// EmitEvent delivers one event to the runtime.
func (h *HTTPHandle) EmitEvent(ctx context.Context, eventType string, payload any) error {
	if h.stopped.Load() {
		return ErrHandleStopped
	}
	return h.post(ctx, eventType, payload)
}

func (h *HTTPHandle) post(ctx context.Context, eventType string, payload any) error {
	delivery := Delivery{
		ID:        ulid.Make().String(),
		Type:      eventType,
		AgentID:   h.id,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Chatrelay-Delivery", delivery.ID)
	req.Header.Set("X-Chatrelay-Event", eventType)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", eventType, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver %s: callback returned %d", eventType, resp.StatusCode)
	}
	return nil
}
