// Package gateway implements the real-time socket protocol: joining
// channels, sending messages and streaming logs.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/apperr"
	"github.com/eldtechnologies/chatrelay/internal/broadcast"
	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/logstream"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/validation"
)

const channelLockStripes = 64

var ErrShuttingDown = errors.New("gateway is shutting down")

// Store is the persistence the gateway needs.
type Store interface {
	GetChannelDetails(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	FindOrCreateChannel(ctx context.Context, channel *models.Channel, participantIDs []string) (*models.Channel, error)
	FindOrCreateCentralDmChannel(ctx context.Context, userA, userB string, serverID uuid.UUID) (*models.Channel, error)
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// Options configures a Gateway.
type Options struct {
	StoreTimeout    time.Duration
	MaxMessageBytes int
}

// Gateway routes socket frames between connections, the store and the bus.
type Gateway struct {
	store     Store
	hub       *broadcast.Hub
	bus       *bus.Bus
	validator *validation.Validator
	logger    zerolog.Logger
	opts      Options

	locks [channelLockStripes]sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
	closing  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a gateway.
func New(store Store, hub *broadcast.Hub, b *bus.Bus, validator *validation.Validator, logger zerolog.Logger, opts Options) *Gateway {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	return &Gateway{
		store:     store,
		hub:       hub,
		bus:       b,
		validator: validator,
		logger:    logger.With().Str("component", "gateway").Logger(),
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

// Connect registers a new connection and greets it.
func (g *Gateway) Connect(sink Sink, remoteAddr string) (*Session, error) {
	if g.closing.Load() {
		return nil, ErrShuttingDown
	}

	s := &Session{id: ids.NewSocketID(), remoteAddr: remoteAddr, sink: sink}
	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()
	g.wg.Add(1)
	metrics.GatewayConnections.Inc()

	g.logger.Debug().Str("socket_id", s.id).Str("remote_addr", remoteAddr).Msg("client connected")
	_ = s.Send(EventConnectionEstablished, ConnectionEstablished{
		SocketID: s.id,
		Message:  "Connected to chatrelay",
	})
	return s, nil
}

// Disconnect releases every membership of s. Calling it twice is a no-op.
func (g *Gateway) Disconnect(s *Session) {
	if s.closed.Swap(true) {
		return
	}
	left := g.hub.LeaveAll(s)

	g.mu.Lock()
	delete(g.sessions, s.id)
	g.mu.Unlock()
	metrics.GatewayConnections.Dec()
	g.wg.Done()

	g.logger.Debug().Str("socket_id", s.id).Strs("channels", left).Msg("client disconnected")
}

// HandleFrame decodes and dispatches one inbound frame.
func (g *Gateway) HandleFrame(ctx context.Context, s *Session, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.sendError(s, "validation", "Invalid message format")
		return
	}

	msgType, named, err := frame.Kind()
	if err != nil {
		g.sendError(s, "validation", err.Error())
		return
	}

	if named != "" {
		metrics.GatewayFrames.WithLabelValues(named).Inc()
		g.handleNamed(s, named, frame.Payload)
		return
	}

	metrics.GatewayFrames.WithLabelValues(msgType.String()).Inc()
	switch msgType {
	case RoomJoining:
		var p JoinPayload
		if !g.decode(s, frame.Payload, &p) {
			return
		}
		g.handleJoin(s, p)
	case SendMessage:
		var p SendPayload
		if !g.decode(s, frame.Payload, &p) {
			return
		}
		g.handleSend(ctx, s, p)
	default:
		g.logger.Debug().Str("socket_id", s.id).Int("type", int(msgType)).Msg("ignoring frame type")
	}
}

func (g *Gateway) decode(s *Session, raw json.RawMessage, v any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		g.sendError(s, "validation", "Invalid message payload")
		return false
	}
	return true
}

func (g *Gateway) handleJoin(s *Session, p JoinPayload) {
	raw, legacy := p.ChannelID, false
	if raw == "" && p.RoomID != "" {
		raw, legacy = p.RoomID, true
	}
	if raw == "" {
		g.sendError(s, "validation", "channelId is required for joining.")
		return
	}

	channelID, ok := g.validator.ValidateID(raw, "channelId", s.remoteAddr)
	if !ok {
		g.sendError(s, "validation", "Invalid channelId")
		return
	}
	serverID, ok := g.serverID(s, p.ServerID)
	if !ok {
		return
	}

	g.hub.Join(s, channelID.String())

	if p.EntityID != "" {
		g.bus.Emit(bus.EntityJoined, bus.EntityJoinedPayload{
			EntityID: p.EntityID,
			WorldID:  serverID,
			RoomID:   channelID,
			Metadata: p.Metadata,
		})
	}

	event := EventChannelJoined
	if legacy {
		event = EventRoomJoined
	}
	_ = s.Send(event, Joined{
		ChannelID: channelID.String(),
		RoomID:    channelID.String(),
		Message:   "Successfully joined channel " + channelID.String(),
	})
	g.logger.Debug().Str("socket_id", s.id).Str("channel_id", channelID.String()).Msg("joined channel")
}

// serverID parses an optional server id, defaulting to the default server.
func (g *Gateway) serverID(s *Session, raw string) (uuid.UUID, bool) {
	if raw == "" {
		return ids.DefaultServerID, true
	}
	id, ok := g.validator.ValidateID(raw, "serverId", s.remoteAddr)
	if !ok {
		g.sendError(s, "validation", "Invalid serverId")
		return uuid.Nil, false
	}
	return id, true
}

func (g *Gateway) handleSend(ctx context.Context, s *Session, p SendPayload) {
	if p.ChannelID == "" {
		p.ChannelID = p.RoomID
	}
	var missing []string
	if p.ChannelID == "" {
		missing = append(missing, "channelId")
	}
	if p.SenderID == "" {
		missing = append(missing, "senderId")
	}
	if p.Message == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		g.sendError(s, "validation", strings.Join(missing, ", ")+" required")
		return
	}
	if len(p.Message) > g.opts.MaxMessageBytes {
		g.sendError(s, "validation", "message is too large")
		return
	}

	requestedID, ok := g.validator.ValidateID(p.ChannelID, "channelId", s.remoteAddr)
	if !ok {
		g.sendError(s, "validation", "Invalid channelId")
		return
	}
	serverID, ok := g.serverID(s, p.ServerID)
	if !ok {
		return
	}

	var replyTo *uuid.UUID
	if p.InReplyTo != "" {
		id, ok := g.validator.ValidateID(p.InReplyTo, "inReplyToMessageId", s.remoteAddr)
		if !ok {
			g.sendError(s, "validation", "Invalid inReplyToMessageId")
			return
		}
		replyTo = &id
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.StoreTimeout)
	defer cancel()

	channel, err := g.resolveChannel(ctx, requestedID, serverID, p)
	if err != nil {
		g.sendStoreError(s, "resolve channel", err)
		return
	}

	source := p.Source
	if source == "" {
		source = "client_chat"
	}
	metadata := p.Metadata
	if p.SenderName != "" || len(p.Attachments) > 0 {
		metadata = cloneMap(metadata)
		if p.SenderName != "" {
			metadata["senderName"] = p.SenderName
		}
		if len(p.Attachments) > 0 {
			metadata["attachments"] = p.Attachments
		}
	}

	lock := g.channelLock(channel.ID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := g.store.CreateMessage(ctx, &models.Message{
		ChannelID:              channel.ID,
		AuthorID:               p.SenderID,
		Content:                p.Message,
		SourceID:               p.ClientMessageID,
		SourceType:             source,
		InReplyToRootMessageID: replyTo,
		Metadata:               metadata,
	})
	if err != nil {
		g.sendStoreError(s, "persist message", err)
		return
	}
	metrics.MessagesPersisted.WithLabelValues(string(channel.Type)).Inc()

	groups := []string{channel.ID.String()}
	if requestedID != channel.ID {
		groups = append(groups, requestedID.String())
	}
	g.hub.BroadcastMany(groups, EventMessageBroadcast, MessageBroadcast{
		ID:          msg.ID.String(),
		Text:        msg.Content,
		SenderID:    msg.AuthorID,
		SenderName:  p.SenderName,
		ChannelID:   channel.ID.String(),
		RoomID:      channel.ID.String(),
		ServerID:    channel.MessageServerID.String(),
		CreatedAt:   msg.CreatedAt.UnixMilli(),
		Source:      source,
		Attachments: p.Attachments,
		Metadata:    p.Metadata,
	})

	_ = s.Send(EventMessageAck, MessageAck{
		Status:          AckStatusProcessing,
		MessageID:       msg.ID.String(),
		ChannelID:       channel.ID.String(),
		ClientMessageID: p.ClientMessageID,
	})

	g.bus.Emit(bus.MessageReceived, bus.MessagePayload{
		Message:     msg,
		ServerID:    channel.MessageServerID,
		ChannelType: channel.Type,
		SenderName:  p.SenderName,
	})
}

// resolveChannel returns the channel a message goes to, creating it when
// the client references one that does not exist yet.
func (g *Gateway) resolveChannel(ctx context.Context, channelID, serverID uuid.UUID, p SendPayload) (*models.Channel, error) {
	start := time.Now()
	channel, err := g.store.GetChannelDetails(ctx, channelID)
	metrics.StoreLatency.WithLabelValues("get_channel").Observe(time.Since(start).Seconds())
	if err != nil || channel != nil {
		return channel, err
	}

	if isDM(p.Metadata) {
		target := p.TargetUserID
		if target == "" {
			target, _ = p.Metadata["targetUserId"].(string)
		}
		if target == "" {
			return nil, apperr.Validation("targetUserId is required for DM channels")
		}
		g.logger.Info().
			Str("sender_id", p.SenderID).
			Str("target_user_id", target).
			Msg("creating DM channel on first message")
		return g.store.FindOrCreateCentralDmChannel(ctx, p.SenderID, target, serverID)
	}

	name := "Chat " + channelID.String()[:8]
	if n, ok := p.Metadata["channelName"].(string); ok && n != "" {
		name = n
	}
	g.logger.Info().Str("channel_id", channelID.String()).Msg("auto-creating channel")
	return g.store.FindOrCreateChannel(ctx, &models.Channel{
		ID:              channelID,
		MessageServerID: serverID,
		Name:            name,
		Type:            models.ChannelTypeGroup,
		SourceType:      "auto_created",
		Metadata:        map[string]any{"createdBy": p.SenderID},
	}, []string{p.SenderID})
}

func isDM(metadata map[string]any) bool {
	if v, ok := metadata["isDm"].(bool); ok && v {
		return true
	}
	t, _ := metadata["channelType"].(string)
	return strings.EqualFold(t, string(models.ChannelTypeDM))
}

func (g *Gateway) handleNamed(s *Session, name string, payload json.RawMessage) {
	switch name {
	case EventSubscribeLogs:
		s.logSubscribed.Store(true)
		_ = s.Send(EventLogSubscription, LogSubscription{Subscribed: true, Message: "Successfully subscribed to log stream"})
	case EventUnsubscribeLogs:
		s.logSubscribed.Store(false)
		_ = s.Send(EventLogSubscription, LogSubscription{Subscribed: false, Message: "Successfully unsubscribed from log stream"})
	case EventUpdateLogFilters:
		var p LogFilterPayload
		if !g.decode(s, payload, &p) {
			return
		}
		filter := logstream.Filter{AgentName: p.AgentName, Level: p.Level}
		s.setLogFilter(filter)
		_ = s.Send(EventLogFiltersUpdated, LogFiltersUpdated{Success: true, Filters: filter})
	default:
		g.sendError(s, "validation", "Unknown message type")
	}
}

// BroadcastLog streams e to every subscribed session whose filter matches.
// It must not log: it runs for every log line.
func (g *Gateway) BroadcastLog(e logstream.Entry) {
	g.mu.RLock()
	targets := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		if s.wantsLog(e) {
			targets = append(targets, s)
		}
	}
	g.mu.RUnlock()

	for _, s := range targets {
		_ = s.Send(EventLogStream, LogStream{Type: "log_entry", Payload: e})
	}
}

// SendControl broadcasts a CONTROL action to a channel's members.
func (g *Gateway) SendControl(channelID uuid.UUID, action, target string) int {
	return g.hub.Broadcast(channelID.String(), EventControlMessage, ControlMessage{
		Type:      Control,
		Action:    action,
		Target:    target,
		ChannelID: channelID.String(),
	})
}

// BroadcastToChannel delivers an arbitrary event to a channel's members.
func (g *Gateway) BroadcastToChannel(channelID uuid.UUID, event string, data any) int {
	return g.hub.Broadcast(channelID.String(), event, data)
}

// SessionCount returns the number of open connections.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Closing reports whether Shutdown has started.
func (g *Gateway) Closing() bool {
	return g.closing.Load()
}

// Shutdown refuses new connections, closes open ones and waits for them
// to finish or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.closing.Store(true)

	g.mu.RLock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		_ = s.sink.Close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) channelLock(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return &g.locks[h.Sum32()%channelLockStripes]
}

func (g *Gateway) sendError(s *Session, kind, message string) {
	metrics.MessageErrors.WithLabelValues(kind).Inc()
	_ = s.Send(EventMessageError, MessageError{Error: message})
}

// sendStoreError reports a store failure. Internal causes are logged and
// replaced by a generic message.
func (g *Gateway) sendStoreError(s *Session, op string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		g.logger.Warn().Err(err).Str("socket_id", s.id).Str("op", op).Msg("store call timed out")
		g.sendError(s, "timeout", "Request timed out")
		return
	case apperr.KindOf(err) == apperr.KindInternal:
		g.logger.Error().Err(err).Str("socket_id", s.id).Str("op", op).Msg("store call failed")
		g.sendError(s, "internal", "Error processing message")
		return
	}
	g.sendError(s, apperr.KindOf(err).String(), apperr.Public(err))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
