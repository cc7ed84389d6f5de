// Package agents keeps track of the agent runtimes attached to this process
// and delivers bus events to them.
package agents

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/apperr"
	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

var (
	ErrInvalidRuntime   = apperr.Validation("agent runtime is required")
	ErrMissingAgentID   = apperr.Validation("agent runtime has no agent id")
	ErrMissingCharacter = apperr.Validation("agent runtime has no character")
)

// Handle is a running agent runtime.
type Handle interface {
	AgentID() uuid.UUID
	Character() *models.Character
	// RegisterPlugin attaches the runtime to this server's message bus.
	RegisterPlugin(ctx context.Context) error
	Stop(ctx context.Context) error
	EmitEvent(ctx context.Context, eventType string, payload any) error
}

// Store is the persistence the registry needs.
type Store interface {
	UpsertAgent(ctx context.Context, agent *models.Agent) error
	AddAgentToServer(ctx context.Context, serverID, agentID uuid.UUID) error
}

// Registry maps agent ids to their live runtimes.
type Registry struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]Handle
	store   Store
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, logger zerolog.Logger) *Registry {
	return &Registry{
		handles: make(map[uuid.UUID]Handle),
		store:   store,
		logger:  logger.With().Str("component", "agents").Logger(),
	}
}

// Register validates h, replaces any runtime registered under the same id,
// records the agent and associates it with the default server.
func (r *Registry) Register(ctx context.Context, h Handle) error {
	if h == nil {
		return ErrInvalidRuntime
	}
	id := h.AgentID()
	if id == uuid.Nil {
		return ErrMissingAgentID
	}
	character := h.Character()
	if character == nil {
		return ErrMissingCharacter
	}

	if err := r.store.UpsertAgent(ctx, &models.Agent{ID: id, Name: character.Name, Character: character}); err != nil {
		return err
	}
	if err := r.store.AddAgentToServer(ctx, ids.DefaultServerID, id); err != nil {
		return err
	}
	if err := h.RegisterPlugin(ctx); err != nil {
		return apperr.Internal("register agent plugin", err)
	}

	// The handle only becomes visible once every step has succeeded, so a
	// failed registration leaves any previous runtime in place.
	r.mu.Lock()
	_, replaced := r.handles[id]
	r.handles[id] = h
	r.mu.Unlock()

	metrics.AgentsRegistered.Inc()
	r.logger.Info().
		Str("agent_id", id.String()).
		Str("name", character.Name).
		Bool("replaced", replaced).
		Msg("agent registered")
	return nil
}

// Unregister removes and stops the runtime for id. Unknown ids are ignored.
func (r *Registry) Unregister(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}

	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.Info().Str("agent_id", id.String()).Msg("agent unregistered")
	return h.Stop(ctx)
}

// Lookup returns the runtime registered under id.
func (r *Registry) Lookup(id uuid.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// List returns every registered runtime ordered by agent id.
func (r *Registry) List() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].AgentID().String() < out[j].AgentID().String()
	})
	return out
}

// Shutdown stops every runtime and empties the registry.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[uuid.UUID]Handle)
	r.mu.Unlock()

	var errs []error
	for id, h := range handles {
		if err := h.Stop(ctx); err != nil {
			r.logger.Error().Err(err).Str("agent_id", id.String()).Msg("failed to stop agent")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
