package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Gateway frame types.
const (
	typeRoomJoining = 1
	typeSendMessage = 2
)

// Event is an inbound gateway frame.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Conn is a gateway connection.
type Conn struct {
	ws     *websocket.Conn
	events chan Event
	writeM sync.Mutex
	done   chan struct{}
	quit   chan struct{}
	once   sync.Once
	err    error
}

// Dial opens a gateway connection. baseURL uses the http(s) scheme of the
// REST API.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	header := http.Header{}
	if c.Token != "" {
		header.Set("X-API-KEY", c.Token)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}

	conn := &Conn{
		ws:     ws,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go conn.readLoop()
	return conn, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		var ev Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}
		select {
		case c.events <- ev:
		case <-c.quit:
			return
		}
	}
}

// Events returns inbound frames. The channel is closed when the
// connection ends.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Err returns the error that ended the connection, if any. It is only
// meaningful after Events is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Join subscribes the connection to a channel's broadcasts.
func (c *Conn) Join(channelID, entityID string) error {
	return c.write(typeRoomJoining, map[string]any{
		"channelId": channelID,
		"entityId":  entityID,
	})
}

// SendMessage is the payload of a gateway send.
type SendMessage struct {
	ChannelID    string         `json:"channelId"`
	ServerID     string         `json:"serverId,omitempty"`
	SenderID     string         `json:"senderId"`
	SenderName   string         `json:"senderName,omitempty"`
	Message      string         `json:"message"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	MessageID    string         `json:"messageId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Send posts a message through the gateway.
func (c *Conn) Send(m SendMessage) error {
	if m.ChannelID == "" || m.SenderID == "" || m.Message == "" {
		return errors.New("channelId, senderId and message are required")
	}
	if m.ServerID == "" {
		m.ServerID = DefaultServerID
	}
	return c.write(typeSendMessage, m)
}

func (c *Conn) write(typ int, payload any) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return c.ws.WriteJSON(map[string]any{"type": typ, "payload": payload})
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.quit) })
	c.writeM.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeM.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}
