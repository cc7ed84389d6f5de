package agents

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

type emitted struct {
	event   string
	payload any
}

type fakeHandle struct {
	id        uuid.UUID
	character *models.Character
	pluginErr error

	mu         sync.Mutex
	registered int
	stopped    int
	events     []emitted
}

func newFakeHandle(name string) *fakeHandle {
	return &fakeHandle{id: uuid.New(), character: &models.Character{Name: name}}
}

func (f *fakeHandle) AgentID() uuid.UUID           { return f.id }
func (f *fakeHandle) Character() *models.Character { return f.character }

func (f *fakeHandle) RegisterPlugin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	return f.pluginErr
}

func (f *fakeHandle) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeHandle) EmitEvent(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event, payload})
	return nil
}

func (f *fakeHandle) Events() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

func setupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "agents.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(setupStore(t), zerolog.Nop())
	ctx := context.Background()

	require.ErrorIs(t, r.Register(ctx, nil), ErrInvalidRuntime)

	noID := newFakeHandle("x")
	noID.id = uuid.Nil
	require.ErrorIs(t, r.Register(ctx, noID), ErrMissingAgentID)

	noChar := newFakeHandle("x")
	noChar.character = nil
	require.ErrorIs(t, r.Register(ctx, noChar), ErrMissingCharacter)

	assert.Empty(t, r.List())
}

func TestRegistry_RegisterPersistsAndAssociates(t *testing.T) {
	s := setupStore(t)
	r := NewRegistry(s, zerolog.Nop())
	ctx := context.Background()
	h := newFakeHandle("Eliza")

	require.NoError(t, r.Register(ctx, h))

	got, ok := r.Lookup(h.id)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, 1, h.registered)

	agent, err := s.GetAgent(ctx, h.id)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "Eliza", agent.Name)

	agents, err := s.GetAgentsForServer(ctx, ids.DefaultServerID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{h.id}, agents)
}

func TestRegistry_ReRegisterReplacesInPlace(t *testing.T) {
	r := NewRegistry(setupStore(t), zerolog.Nop())
	ctx := context.Background()

	first := newFakeHandle("v1")
	second := newFakeHandle("v2")
	second.id = first.id

	require.NoError(t, r.Register(ctx, first))
	require.NoError(t, r.Register(ctx, second))

	got, ok := r.Lookup(first.id)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Len(t, r.List(), 1)
	assert.Equal(t, 0, first.stopped)
}

func TestRegistry_PluginFailure(t *testing.T) {
	r := NewRegistry(setupStore(t), zerolog.Nop())
	h := newFakeHandle("x")
	h.pluginErr = errors.New("unreachable")

	require.Error(t, r.Register(context.Background(), h))
	_, ok := r.Lookup(h.id)
	assert.False(t, ok)
	assert.Empty(t, r.List())
}

func TestRegistry_FailedReplaceKeepsPrevious(t *testing.T) {
	r := NewRegistry(setupStore(t), zerolog.Nop())
	ctx := context.Background()
	first := newFakeHandle("x")
	require.NoError(t, r.Register(ctx, first))

	second := newFakeHandle("x")
	second.id = first.id
	second.pluginErr = errors.New("unreachable")
	require.Error(t, r.Register(ctx, second))

	got, ok := r.Lookup(first.id)
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, 0, first.stopped)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(setupStore(t), zerolog.Nop())
	ctx := context.Background()
	h := newFakeHandle("x")
	require.NoError(t, r.Register(ctx, h))

	require.NoError(t, r.Unregister(ctx, h.id))
	require.NoError(t, r.Unregister(ctx, h.id))
	require.NoError(t, r.Unregister(ctx, uuid.Nil))
	require.NoError(t, r.Unregister(ctx, uuid.New()))

	_, ok := r.Lookup(h.id)
	assert.False(t, ok)
	assert.Equal(t, 1, h.stopped)
}

func TestRegistry_Shutdown(t *testing.T) {
	r := NewRegistry(setupStore(t), zerolog.Nop())
	ctx := context.Background()
	a, b := newFakeHandle("a"), newFakeHandle("b")
	require.NoError(t, r.Register(ctx, a))
	require.NoError(t, r.Register(ctx, b))

	require.NoError(t, r.Shutdown(ctx))
	assert.Equal(t, 1, a.stopped)
	assert.Equal(t, 1, b.stopped)
	assert.Empty(t, r.List())
}
