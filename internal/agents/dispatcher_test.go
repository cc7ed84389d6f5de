package agents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

func TestDispatcher_DeliversToServerAgentsExceptAuthor(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	b := bus.New(zerolog.Nop())
	r := NewRegistry(s, zerolog.Nop())

	listener := newFakeHandle("listener")
	author := newFakeHandle("author")
	require.NoError(t, r.Register(ctx, listener))
	require.NoError(t, r.Register(ctx, author))

	ch, err := s.CreateChannel(ctx, &models.Channel{MessageServerID: ids.DefaultServerID, Name: "general"}, nil)
	require.NoError(t, err)

	d := NewDispatcher(b, r, s, time.Second, zerolog.Nop())
	d.Start()

	b.Emit(bus.MessageReceived, bus.MessagePayload{
		Message:  &models.Message{ID: uuid.New(), ChannelID: ch.ID, AuthorID: author.id.String(), Content: "hi"},
		ServerID: ids.DefaultServerID,
	})
	require.NoError(t, d.Close(ctx))

	events := listener.Events()
	require.Len(t, events, 1)
	assert.Equal(t, bus.MessageReceived, events[0].event)
	assert.Empty(t, author.Events())
	assert.Equal(t, 0, b.ListenerCount(bus.MessageReceived))
}

func TestDispatcher_DMOnlyReachesParticipants(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := NewRegistry(s, zerolog.Nop())

	inDM := newFakeHandle("in")
	outside := newFakeHandle("out")
	require.NoError(t, r.Register(ctx, inDM))
	require.NoError(t, r.Register(ctx, outside))

	dm, err := s.FindOrCreateCentralDmChannel(ctx, "user-1", inDM.id.String(), ids.DefaultServerID)
	require.NoError(t, err)

	d := NewDispatcher(bus.New(zerolog.Nop()), r, s, time.Second, zerolog.Nop())
	got, err := d.Recipients(ctx, dm.ID, ids.DefaultServerID, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inDM.id, got[0].AgentID())
}

func TestDispatcher_UnknownChannelFallsBackToPayloadServer(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := NewRegistry(s, zerolog.Nop())
	h := newFakeHandle("x")
	require.NoError(t, r.Register(ctx, h))

	d := NewDispatcher(bus.New(zerolog.Nop()), r, s, time.Second, zerolog.Nop())
	got, err := d.Recipients(ctx, uuid.New(), ids.DefaultServerID, "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDispatcher_RejectsUnroutablePayload(t *testing.T) {
	s := setupStore(t)
	d := NewDispatcher(bus.New(zerolog.Nop()), NewRegistry(s, zerolog.Nop()), s, time.Second, zerolog.Nop())
	assert.Error(t, d.handle(bus.MessageReceived, "not routable"))
}
