package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
)

// Options configures the HTTP router.
type Options struct {
	Logger    zerolog.Logger
	Handlers  handlers.Deps
	WebSocket http.Handler

	// RateLimitBackend stores rate limit windows; nil keeps them in memory.
	RateLimitBackend middleware.Backend
	RateLimit        middleware.RateLimiterConfig

	AuthToken      string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts Options) *chi.Mux {
	logger := opts.Logger
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 256 * 1024
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.SecurityMonitor(logger))

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limiter := middleware.NewRateLimiter(opts.RateLimitBackend, logger, opts.RateLimit)
	auth := middleware.RequireAPIKey(opts.AuthToken, logger)
	h := handlers.NewHandler(opts.Handlers)

	// Public routes
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	// Gateway upgrades
	if opts.WebSocket != nil {
		r.With(limiter.Limit(middleware.WebSocketLimit), auth).Handle("/ws", opts.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Limit(middleware.APILimit))
		r.Use(auth)
		r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
		r.Use(middleware.RequireJSON)

		r.Get("/", h.Root)
		r.Get("/stats", h.Stats)
		r.Get("/dm-channel", h.GetDMChannel)

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", h.ListServers)
			r.Post("/", h.CreateServer)
			r.Route("/{serverId}", func(r chi.Router) {
				r.Get("/channels", h.ServerChannels)
				r.Get("/agents", h.ServerAgents)
				r.Post("/agents", h.AddServerAgent)
				r.Delete("/agents/{agentId}", h.RemoveServerAgent)
			})
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.AttachAgent)
			r.Get("/{agentId}", h.GetAgent)
			r.Delete("/{agentId}", h.DetachAgent)
			r.Get("/{agentId}/servers", h.AgentServers)
		})

		r.Post("/channels", h.CreateChannel)
		r.Route("/channels/{channelId}", func(r chi.Router) {
			r.Use(limiter.Limit(middleware.ChannelValidationLimit))

			r.Get("/", h.GetChannel)
			r.Delete("/", h.DeleteChannel)
			r.Get("/participants", h.ListParticipants)
			r.Post("/participants", h.AddParticipants)

			r.Group(func(r chi.Router) {
				r.Use(limiter.Limit(middleware.MessagesLimit))

				r.Get("/messages", h.GetChannelMessages)
				r.Delete("/messages", h.ClearChannelMessages)
				r.Delete("/messages/{messageId}", h.DeleteMessage)
			})
		})
	})

	return r
}
