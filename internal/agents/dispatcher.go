package agents

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// DispatchStore is the persistence the dispatcher reads to route events.
type DispatchStore interface {
	GetChannelDetails(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetChannelParticipants(ctx context.Context, channelID uuid.UUID) ([]string, error)
	GetAgentsForServer(ctx context.Context, serverID uuid.UUID) ([]uuid.UUID, error)
}

// Dispatcher forwards bus events to the runtimes of the agents attached to
// the event's server.
type Dispatcher struct {
	bus      *bus.Bus
	registry *Registry
	store    DispatchStore
	timeout  time.Duration
	logger   zerolog.Logger

	handler bus.Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DispatchedEvents are the bus events forwarded to agents.
var DispatchedEvents = []string{
	bus.EntityJoined,
	bus.MessageReceived,
	bus.MessageDeleted,
	bus.ChannelCleared,
}

// NewDispatcher creates a dispatcher. Call Start to subscribe it.
func NewDispatcher(b *bus.Bus, registry *Registry, store DispatchStore, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		bus:      b,
		registry: registry,
		store:    store,
		timeout:  timeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	d.handler = bus.Func(d.handle)
	return d
}

// Start subscribes the dispatcher to the bus.
func (d *Dispatcher) Start() {
	for _, event := range DispatchedEvents {
		d.bus.On(event, d.handler)
	}
}

// Close unsubscribes and waits for in-flight deliveries or ctx expiry.
func (d *Dispatcher) Close(ctx context.Context) error {
	for _, event := range DispatchedEvents {
		d.bus.Off(event, d.handler)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) handle(event string, data any) error {
	payload, ok := data.(bus.Routable)
	if !ok {
		return fmt.Errorf("dispatcher: unroutable payload %T for %s", data, event)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(event, payload)
	}()
	return nil
}

// deliver resolves the recipients of one event and emits it to each.
func (d *Dispatcher) deliver(event string, payload bus.Routable) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	channelID, serverID, authorID := payload.Route()
	recipients, err := d.Recipients(ctx, channelID, serverID, authorID)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Str("channel_id", channelID.String()).Msg("failed to resolve agent recipients")
		return
	}

	for _, h := range recipients {
		result := "ok"
		if err := h.EmitEvent(ctx, event, payload); err != nil {
			result = "error"
			d.logger.Warn().Err(err).
				Str("event", event).
				Str("agent_id", h.AgentID().String()).
				Msg("agent delivery failed")
		}
		metrics.AgentDeliveries.WithLabelValues(event, result).Inc()
	}
}

// Recipients returns the registered runtimes that should see an event on
// channelID. The channel's own server wins over serverID when the channel
// still exists. DM channels only reach agents that participate in them and
// the author never receives its own event.
func (d *Dispatcher) Recipients(ctx context.Context, channelID, serverID uuid.UUID, authorID string) ([]Handle, error) {
	channel, err := d.store.GetChannelDetails(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var participants []string
	if channel != nil {
		serverID = channel.MessageServerID
		if channel.Type == models.ChannelTypeDM {
			participants, err = d.store.GetChannelParticipants(ctx, channelID)
			if err != nil {
				return nil, err
			}
		}
	}

	agentIDs, err := d.store.GetAgentsForServer(ctx, serverID)
	if err != nil {
		return nil, err
	}

	var out []Handle
	for _, id := range agentIDs {
		if id.String() == authorID {
			continue
		}
		if participants != nil && !slices.Contains(participants, id.String()) {
			continue
		}
		if h, ok := d.registry.Lookup(id); ok {
			out = append(out, h)
		}
	}
	return out, nil
}
