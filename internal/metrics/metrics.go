package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_gateway_connections",
			Help: "Currently open gateway connections",
		},
	)

	GatewayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_gateway_frames_total",
			Help: "Inbound gateway frames by type",
		},
		[]string{"type"},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_persisted_total",
			Help: "Messages persisted from the gateway",
		},
		[]string{"channel_type"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_broadcasts_total",
			Help: "Events fanned out to channel members",
		},
		[]string{"event"},
	)

	MessageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_message_errors_total",
			Help: "messageError frames sent to clients",
		},
		[]string{"kind"},
	)

	DroppedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_gateway_dropped_connections_total",
			Help: "Connections closed because their outbound queue was full",
		},
	)

	// Bus metrics
	BusEmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_bus_emits_total",
			Help: "Events emitted on the internal bus",
		},
		[]string{"event"},
	)

	BusHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_bus_handler_failures_total",
			Help: "Bus handlers that returned an error or panicked",
		},
		[]string{"event"},
	)

	// Agent metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_agents_registered_total",
			Help: "Total agent runtimes registered",
		},
	)

	AgentDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_agent_deliveries_total",
			Help: "Events delivered to agent runtimes",
		},
		[]string{"event", "result"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"family"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_validation_rejections_total",
			Help: "Identifiers rejected by validation",
		},
		[]string{"kind"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_store_latency_seconds",
			Help:    "Entity store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
