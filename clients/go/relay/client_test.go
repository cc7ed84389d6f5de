package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/agents"
	"github.com/eldtechnologies/chatrelay/internal/api"
	"github.com/eldtechnologies/chatrelay/internal/broadcast"
	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/gateway"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/store"
	"github.com/eldtechnologies/chatrelay/internal/validation"
)

func setupServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	logger := zerolog.Nop()
	b := bus.New(logger)
	validator := validation.New(logger)
	gw := gateway.New(s, broadcast.NewHub(), b, validator, logger, gateway.Options{StoreTimeout: time.Second})

	srv := httptest.NewServer(api.NewRouter(api.Options{
		Logger: logger,
		Handlers: handlers.Deps{
			Store:     s,
			Registry:  agents.NewRegistry(s, logger),
			Gateway:   gw,
			Bus:       b,
			Validator: validator,
			Logger:    logger,
		},
		WebSocket:      gateway.NewHandler(gw, nil, 0, logger),
		AuthToken:      token,
		AllowedOrigins: []string{"*"},
	}))
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return srv
}

func next(t *testing.T, conn *Conn, event string) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			require.True(t, ok, "connection closed: %v", conn.Err())
			if ev.Name == event {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func TestClient_REST(t *testing.T) {
	srv := setupServer(t, "token")
	client := NewClient(srv.URL, "token")

	health, err := client.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	servers, err := client.ListServers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, DefaultServerID, servers[0].ID)

	ch, err := client.CreateChannel(DefaultServerID, "general", []string{"u1"})
	require.NoError(t, err)

	channels, err := client.ServerChannels(DefaultServerID)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, ch.ID, channels[0].ID)

	dm, err := client.DMChannel("alice", "bob")
	require.NoError(t, err)
	again, err := client.DMChannel("bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, dm.ID, again.ID)

	page, err := client.GetMessages(ch.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestClient_Unauthorized(t *testing.T) {
	srv := setupServer(t, "token")
	client := NewClient(srv.URL, "wrong")

	_, err := client.ListServers()
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = client.Dial(context.Background())
	assert.Error(t, err)
}

func TestConn_JoinAndSend(t *testing.T) {
	srv := setupServer(t, "token")
	client := NewClient(srv.URL, "token")
	ctx := context.Background()

	alice, err := client.Dial(ctx)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := client.Dial(ctx)
	require.NoError(t, err)
	defer bob.Close()

	channelID := uuid.NewString()
	require.NoError(t, bob.Join(channelID, "bob"))
	next(t, bob, "channel_joined")

	require.NoError(t, alice.Send(SendMessage{
		ChannelID: channelID,
		SenderID:  "alice",
		Message:   "hi bob",
		MessageID: "client-1",
	}))

	var ack struct {
		Status          string `json:"status"`
		MessageID       string `json:"messageId"`
		ClientMessageID string `json:"clientMessageId"`
	}
	require.NoError(t, json.Unmarshal(next(t, alice, "messageAck").Data, &ack))
	assert.Equal(t, "client-1", ack.ClientMessageID)

	var got struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(next(t, bob, "messageBroadcast").Data, &got))
	assert.Equal(t, "hi bob", got.Text)
	assert.Equal(t, ack.MessageID, got.ID)

	page, err := client.GetMessages(channelID, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "alice", page.Messages[0].AuthorID)
}

func TestConn_SendRequiresFields(t *testing.T) {
	c := &Conn{}
	assert.Error(t, c.Send(SendMessage{ChannelID: "x", SenderID: "y"}))
}
