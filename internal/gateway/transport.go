package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsQueueSize  = 256
)

var (
	errSinkClosed = errors.New("connection closed")
	errQueueFull  = errors.New("outbound queue full")
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Handler upgrades HTTP requests to gateway connections.
type Handler struct {
	gateway  *Gateway
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	maxFrame int64
}

// NewHandler creates the websocket endpoint for g. Frames larger than
// maxFrame bytes close the connection.
func NewHandler(g *Gateway, allowedOrigins []string, maxFrame int64, logger zerolog.Logger) *Handler {
	if maxFrame <= 0 {
		maxFrame = 128 * 1024
	}
	return &Handler{
		gateway:  g,
		upgrader: makeUpgrader(allowedOrigins),
		logger:   logger.With().Str("component", "gateway").Logger(),
		maxFrame: maxFrame,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.gateway.Closing() {
		http.Error(w, `{"error":"server is shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sink := newWSSink(conn)
	go sink.writeLoop()

	session, err := h.gateway.Connect(sink, r.RemoteAddr)
	if err != nil {
		_ = sink.Close()
		return
	}
	defer h.gateway.Disconnect(session)
	defer sink.Close()

	conn.SetReadLimit(h.maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("socket_id", session.ID()).Msg("client read error")
			}
			return
		}
		// Any message resets the read deadline.
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		h.gateway.HandleFrame(ctx, session, data)
	}
}

// wsSink queues outbound frames for one websocket. A single writer
// goroutine owns the connection's write side.
type wsSink struct {
	conn      *websocket.Conn
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{
		conn:  conn,
		queue: make(chan []byte, wsQueueSize),
		done:  make(chan struct{}),
	}
}

// Send never blocks. A peer that cannot keep up is disconnected.
func (s *wsSink) Send(event string, data any) error {
	payload, err := json.Marshal(OutFrame{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return errSinkClosed
	default:
	}

	select {
	case s.queue <- payload:
		return nil
	case <-s.done:
		return errSinkClosed
	default:
		metrics.DroppedConnections.Inc()
		_ = s.Close()
		return errQueueFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
func (s *wsSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *wsSink) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.Close()
				return
			}
		case <-s.done:
			s.drain()
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "closing"))
			return
		}
	}
}

// drain flushes frames that were queued before Close.
func (s *wsSink) drain() {
	for {
		select {
		case payload := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
