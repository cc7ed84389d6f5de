package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/broadcast"
	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/logstream"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
	"github.com/eldtechnologies/chatrelay/internal/validation"
)

// recordingSink keeps every outbound frame in memory.
type recordingSink struct {
	mu     sync.Mutex
	frames []OutFrame
	closed bool
}

func (r *recordingSink) Send(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errSinkClosed
	}
	r.frames = append(r.frames, OutFrame{Event: event, Data: data})
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Event
	}
	return out
}

func (r *recordingSink) Last(event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event == event {
			return r.frames[i].Data, true
		}
	}
	return nil, false
}

type testEnv struct {
	gw    *Gateway
	store *store.SQLiteStore
	bus   *bus.Bus
}

func setupGateway(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	b := bus.New(zerolog.Nop())
	gw := New(s, broadcast.NewHub(), b, validation.New(zerolog.Nop()), zerolog.Nop(), Options{
		StoreTimeout:    time.Second,
		MaxMessageBytes: 1024,
	})
	return &testEnv{gw: gw, store: s, bus: b}
}

func (e *testEnv) connect(t *testing.T) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	sess, err := e.gw.Connect(sink, "127.0.0.1")
	require.NoError(t, err)
	return sess, sink
}

func frame(t *testing.T, typ any, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(t, err)
	return data
}

func TestGateway_ConnectGreets(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	data, ok := sink.Last(EventConnectionEstablished)
	require.True(t, ok)
	assert.Equal(t, sess.ID(), data.(ConnectionEstablished).SocketID)
	assert.Equal(t, 1, env.gw.SessionCount())
}

func TestGateway_JoinAcksAndEmitsEntityJoined(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)
	channelID := uuid.New()

	var joined []bus.EntityJoinedPayload
	env.bus.On(bus.EntityJoined, bus.Func(func(_ string, data any) error {
		joined = append(joined, data.(bus.EntityJoinedPayload))
		return nil
	}))

	env.gw.HandleFrame(context.Background(), sess, frame(t, 1, map[string]any{
		"channelId": channelID.String(),
		"entityId":  "u1",
	}))

	data, ok := sink.Last(EventChannelJoined)
	require.True(t, ok)
	assert.Equal(t, channelID.String(), data.(Joined).ChannelID)
	assert.Equal(t, []string{channelID.String()}, env.gw.hub.Groups(sess))

	require.Len(t, joined, 1)
	assert.Equal(t, "u1", joined[0].EntityID)
	assert.Equal(t, ids.DefaultServerID, joined[0].WorldID)
	assert.Equal(t, channelID, joined[0].RoomID)
}

func TestGateway_JoinLegacyRoomID(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	env.gw.HandleFrame(context.Background(), sess, frame(t, "1", map[string]any{"roomId": uuid.NewString()}))

	_, ok := sink.Last(EventRoomJoined)
	assert.True(t, ok)
}

func TestGateway_JoinWithoutChannel(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	env.gw.HandleFrame(context.Background(), sess, frame(t, 1, map[string]any{}))

	data, ok := sink.Last(EventMessageError)
	require.True(t, ok)
	assert.Equal(t, "channelId is required for joining.", data.(MessageError).Error)
	assert.Empty(t, env.gw.hub.Groups(sess))
}

func TestGateway_JoinInvalidChannel(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	env.gw.HandleFrame(context.Background(), sess, frame(t, 1, map[string]any{"channelId": "../etc/passwd"}))

	data, ok := sink.Last(EventMessageError)
	require.True(t, ok)
	assert.Equal(t, "Invalid channelId", data.(MessageError).Error)
}

func TestGateway_SendPersistsBroadcastsAndAcks(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	channelID := uuid.New()

	sender, senderSink := env.connect(t)
	listener, listenerSink := env.connect(t)
	env.gw.HandleFrame(ctx, sender, frame(t, 1, map[string]any{"channelId": channelID.String()}))
	env.gw.HandleFrame(ctx, listener, frame(t, 1, map[string]any{"channelId": channelID.String()}))

	var received []bus.MessagePayload
	env.bus.On(bus.MessageReceived, bus.Func(func(_ string, data any) error {
		received = append(received, data.(bus.MessagePayload))
		return nil
	}))

	env.gw.HandleFrame(ctx, sender, frame(t, 2, map[string]any{
		"channelId":  channelID.String(),
		"senderId":   "u1",
		"senderName": "User One",
		"message":    "hi",
		"messageId":  "client-1",
	}))

	ackData, ok := senderSink.Last(EventMessageAck)
	require.True(t, ok)
	ack := ackData.(MessageAck)
	assert.Equal(t, AckStatusProcessing, ack.Status)
	assert.Equal(t, channelID.String(), ack.ChannelID)
	assert.Equal(t, "client-1", ack.ClientMessageID)

	for _, sink := range []*recordingSink{senderSink, listenerSink} {
		data, ok := sink.Last(EventMessageBroadcast)
		require.True(t, ok)
		b := data.(MessageBroadcast)
		assert.Equal(t, "hi", b.Text)
		assert.Equal(t, "u1", b.SenderID)
		assert.Equal(t, ack.MessageID, b.ID)
		assert.Equal(t, ids.DefaultServerID.String(), b.ServerID)
	}

	events := senderSink.Events()
	assert.Equal(t, EventMessageAck, events[len(events)-1])
	assert.Equal(t, EventMessageBroadcast, events[len(events)-2])

	msgs, err := env.store.GetMessagesForChannel(ctx, channelID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ack.MessageID, msgs[0].ID.String())

	channel, err := env.store.GetChannelDetails(ctx, channelID)
	require.NoError(t, err)
	require.NotNil(t, channel)
	assert.Equal(t, models.ChannelTypeGroup, channel.Type)
	participants, err := env.store.GetChannelParticipants(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, participants)

	require.Len(t, received, 1)
	assert.Equal(t, "hi", received[0].Message.Content)
}

func TestGateway_SendMissingFields(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)
	channelID := uuid.New()

	env.gw.HandleFrame(context.Background(), sess, frame(t, 2, map[string]any{"channelId": channelID.String()}))

	data, ok := sink.Last(EventMessageError)
	require.True(t, ok)
	msg := data.(MessageError).Error
	assert.Contains(t, msg, "required")
	assert.Contains(t, msg, "senderId")
	assert.Contains(t, msg, "message")

	channel, err := env.store.GetChannelDetails(context.Background(), channelID)
	require.NoError(t, err)
	assert.Nil(t, channel)
	msgs, err := env.store.GetMessagesForChannel(context.Background(), channelID, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGateway_SendTooLarge(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	env.gw.HandleFrame(context.Background(), sess, frame(t, 2, map[string]any{
		"channelId": uuid.NewString(),
		"senderId":  "u1",
		"message":   string(make([]byte, 2048)),
	}))

	_, ok := sink.Last(EventMessageError)
	assert.True(t, ok)
	_, acked := sink.Last(EventMessageAck)
	assert.False(t, acked)
}

func TestGateway_SendCreatesDMChannel(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	sess, sink := env.connect(t)
	requested := uuid.New()
	env.gw.HandleFrame(ctx, sess, frame(t, 1, map[string]any{"channelId": requested.String()}))

	env.gw.HandleFrame(ctx, sess, frame(t, 2, map[string]any{
		"channelId": requested.String(),
		"senderId":  "alice",
		"message":   "psst",
		"metadata":  map[string]any{"isDm": true, "targetUserId": "bob"},
	}))

	ackData, ok := sink.Last(EventMessageAck)
	require.True(t, ok)
	ack := ackData.(MessageAck)

	dm, err := env.store.FindOrCreateCentralDmChannel(ctx, "bob", "alice", ids.DefaultServerID)
	require.NoError(t, err)
	assert.Equal(t, dm.ID.String(), ack.ChannelID)

	_, broadcasted := sink.Last(EventMessageBroadcast)
	assert.True(t, broadcasted)
}

func TestGateway_SendDMWithoutTarget(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	env.gw.HandleFrame(context.Background(), sess, frame(t, 2, map[string]any{
		"channelId": uuid.NewString(),
		"senderId":  "alice",
		"message":   "psst",
		"metadata":  map[string]any{"isDm": true},
	}))

	data, ok := sink.Last(EventMessageError)
	require.True(t, ok)
	assert.Contains(t, data.(MessageError).Error, "targetUserId")
}

func TestGateway_SendUnknownServer(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	env.gw.HandleFrame(context.Background(), sess, frame(t, 2, map[string]any{
		"channelId": uuid.NewString(),
		"serverId":  uuid.NewString(),
		"senderId":  "alice",
		"message":   "hello?",
	}))

	data, ok := sink.Last(EventMessageError)
	require.True(t, ok)
	assert.Equal(t, store.ErrServerNotFound.Error(), data.(MessageError).Error)
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) GetChannelDetails(context.Context, uuid.UUID) (*models.Channel, error) {
	return &models.Channel{ID: uuid.New(), Type: models.ChannelTypeGroup}, nil
}

func (f failingStore) CreateMessage(context.Context, *models.Message) (*models.Message, error) {
	return nil, f.err
}

func TestGateway_PersistenceFailureOnlyErrors(t *testing.T) {
	b := bus.New(zerolog.Nop())
	gw := New(failingStore{err: errors.New("disk full")}, broadcast.NewHub(), b, validation.New(zerolog.Nop()), zerolog.Nop(), Options{})
	sink := &recordingSink{}
	sess, err := gw.Connect(sink, "127.0.0.1")
	require.NoError(t, err)

	emitted := 0
	b.On(bus.MessageReceived, bus.Func(func(string, any) error { emitted++; return nil }))

	gw.HandleFrame(context.Background(), sess, frame(t, 2, map[string]any{
		"channelId": uuid.NewString(),
		"senderId":  "u1",
		"message":   "hi",
	}))

	data, ok := sink.Last(EventMessageError)
	require.True(t, ok)
	assert.Equal(t, "Error processing message", data.(MessageError).Error)
	_, acked := sink.Last(EventMessageAck)
	assert.False(t, acked)
	_, broadcasted := sink.Last(EventMessageBroadcast)
	assert.False(t, broadcasted)
	assert.Equal(t, 0, emitted)
}

func TestGateway_PerChannelOrdering(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	channelID := uuid.New()

	listener, listenerSink := env.connect(t)
	env.gw.HandleFrame(ctx, listener, frame(t, 1, map[string]any{"channelId": channelID.String()}))

	sender, _ := env.connect(t)
	for i := 0; i < 20; i++ {
		env.gw.HandleFrame(ctx, sender, frame(t, 2, map[string]any{
			"channelId": channelID.String(),
			"senderId":  "u1",
			"message":   fmt.Sprintf("m%d", i),
		}))
	}

	listenerSink.mu.Lock()
	var texts []string
	for _, f := range listenerSink.frames {
		if f.Event == EventMessageBroadcast {
			texts = append(texts, f.Data.(MessageBroadcast).Text)
		}
	}
	listenerSink.mu.Unlock()

	require.Len(t, texts, 20)
	for i, text := range texts {
		assert.Equal(t, fmt.Sprintf("m%d", i), text)
	}
}

func TestGateway_DisconnectLeavesRooms(t *testing.T) {
	env := setupGateway(t)
	sess, _ := env.connect(t)
	channelID := uuid.New()
	env.gw.HandleFrame(context.Background(), sess, frame(t, 1, map[string]any{"channelId": channelID.String()}))

	env.gw.Disconnect(sess)
	env.gw.Disconnect(sess)

	assert.Empty(t, env.gw.hub.Members(channelID.String()))
	assert.Equal(t, 0, env.gw.SessionCount())
}

func TestGateway_InvalidFrames(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	env.gw.HandleFrame(context.Background(), sess, []byte("{not json"))
	env.gw.HandleFrame(context.Background(), sess, []byte(`{"payload":{}}`))
	env.gw.HandleFrame(context.Background(), sess, frame(t, "bogus_event", nil))

	count := 0
	for _, e := range sink.Events() {
		if e == EventMessageError {
			count++
		}
	}
	assert.Equal(t, 3, count)
}

func TestGateway_NumericLogLevelFilter(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	sess, sink := env.connect(t)

	env.gw.HandleFrame(ctx, sess, frame(t, EventSubscribeLogs, nil))
	env.gw.HandleFrame(ctx, sess, frame(t, EventUpdateLogFilters, map[string]any{"level": 40}))

	_, failed := sink.Last(EventMessageError)
	assert.False(t, failed)
	data, ok := sink.Last(EventLogFiltersUpdated)
	require.True(t, ok)
	assert.Equal(t, logstream.Level("40"), data.(LogFiltersUpdated).Filters.Level)

	env.gw.BroadcastLog(logstream.Entry{Level: 30, Msg: "info"})
	env.gw.BroadcastLog(logstream.Entry{Level: 40, Msg: "warn"})

	data, ok = sink.Last(EventLogStream)
	require.True(t, ok)
	assert.Equal(t, "warn", data.(LogStream).Payload.Msg)
}

func TestGateway_LogStreaming(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	subscribed, subSink := env.connect(t)
	_, otherSink := env.connect(t)

	env.gw.HandleFrame(ctx, subscribed, frame(t, EventSubscribeLogs, nil))
	data, ok := subSink.Last(EventLogSubscription)
	require.True(t, ok)
	assert.True(t, data.(LogSubscription).Subscribed)

	env.gw.HandleFrame(ctx, subscribed, frame(t, EventUpdateLogFilters, map[string]any{"agentName": "eliza", "level": "warn"}))
	data, ok = subSink.Last(EventLogFiltersUpdated)
	require.True(t, ok)
	assert.Equal(t, logstream.Filter{AgentName: "eliza", Level: "warn"}, data.(LogFiltersUpdated).Filters)

	env.gw.BroadcastLog(logstream.Entry{Level: 30, AgentName: "eliza", Msg: "too quiet"})
	env.gw.BroadcastLog(logstream.Entry{Level: 50, AgentName: "other", Msg: "wrong agent"})
	env.gw.BroadcastLog(logstream.Entry{Level: 50, AgentName: "eliza", Msg: "match"})

	var streamed []string
	subSink.mu.Lock()
	for _, f := range subSink.frames {
		if f.Event == EventLogStream {
			streamed = append(streamed, f.Data.(LogStream).Payload.Msg)
		}
	}
	subSink.mu.Unlock()
	assert.Equal(t, []string{"match"}, streamed)

	_, leaked := otherSink.Last(EventLogStream)
	assert.False(t, leaked)

	env.gw.HandleFrame(ctx, subscribed, frame(t, EventUnsubscribeLogs, nil))
	data, _ = subSink.Last(EventLogSubscription)
	assert.False(t, data.(LogSubscription).Subscribed)
}

func TestGateway_SendControl(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)
	channelID := uuid.New()
	env.gw.HandleFrame(context.Background(), sess, frame(t, 1, map[string]any{"channelId": channelID.String()}))

	assert.Equal(t, 1, env.gw.SendControl(channelID, "disable_input", "input"))

	data, ok := sink.Last(EventControlMessage)
	require.True(t, ok)
	ctrl := data.(ControlMessage)
	assert.Equal(t, Control, ctrl.Type)
	assert.Equal(t, "disable_input", ctrl.Action)
	assert.Equal(t, channelID.String(), ctrl.ChannelID)
}

func TestGateway_ShutdownRefusesAndCloses(t *testing.T) {
	env := setupGateway(t)
	sess, sink := env.connect(t)

	done := make(chan error, 1)
	go func() { done <- env.gw.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.closed
	}, time.Second, 10*time.Millisecond)
	env.gw.Disconnect(sess)

	require.NoError(t, <-done)
	_, err := env.gw.Connect(&recordingSink{}, "127.0.0.1")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestGateway_ShutdownHonorsContext(t *testing.T) {
	env := setupGateway(t)
	env.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.gw.Shutdown(ctx), context.DeadlineExceeded)
}

func TestFrame_Kind(t *testing.T) {
	tests := []struct {
		raw   string
		typ   MessageType
		named string
		err   bool
	}{
		{`{"type":2}`, SendMessage, "", false},
		{`{"type":"1"}`, RoomJoining, "", false},
		{`{"type":"subscribe_logs"}`, 0, "subscribe_logs", false},
		{`{}`, 0, "", true},
		{`{"type":{}}`, 0, "", true},
	}
	for _, tt := range tests {
		var f Frame
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &f))
		typ, named, err := f.Kind()
		if tt.err {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.typ, typ)
		assert.Equal(t, tt.named, named)
	}
}
