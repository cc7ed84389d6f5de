package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/agents"
	"github.com/eldtechnologies/chatrelay/internal/api"
	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/broadcast"
	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/config"
	"github.com/eldtechnologies/chatrelay/internal/gateway"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/logstream"
	"github.com/eldtechnologies/chatrelay/internal/store"
	"github.com/eldtechnologies/chatrelay/internal/validation"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Every log line is also offered to log stream subscribers
	logWriter := logstream.NewWriter(1024)

	// Initialize logger
	var out io.Writer = os.Stdout
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(out, logWriter)).
		Level(level).
		With().
		Timestamp().
		Logger()

	ctx := context.Background()

	// Initialize entity store
	dataStore, err := store.Open(ctx, store.Options{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("entity store initialization failed")
	}
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("connected to Redis")
	}

	// Routing core
	eventBus := bus.New(logger)
	registry := agents.NewRegistry(dataStore, logger)
	dispatcher := agents.NewDispatcher(eventBus, registry, dataStore, cfg.StoreTimeout, logger)
	dispatcher.Start()

	validator := validation.New(logger)
	hub := broadcast.NewHub()
	gw := gateway.New(dataStore, hub, eventBus, validator, logger, gateway.Options{
		StoreTimeout:    cfg.StoreTimeout,
		MaxMessageBytes: int(cfg.MaxMessageBytes),
	})
	logWriter.Attach(gw)

	opts := api.Options{
		Logger: logger,
		Handlers: handlers.Deps{
			Store:     dataStore,
			Redis:     redisStore,
			Registry:  registry,
			Gateway:   gw,
			Bus:       eventBus,
			Validator: validator,
			Logger:    logger,
		},
		WebSocket: gateway.NewHandler(gw, cfg.AllowedOrigins, 2*cfg.MaxMessageBytes, logger),
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBodyBytes:   2 * cfg.MaxMessageBytes,
	}
	if redisStore != nil {
		opts.RateLimitBackend = redisStore
	}
	if cfg.AuthToken == "" {
		logger.Warn().Msg("SERVER_AUTH_TOKEN not set; API key checks disabled")
	}

	// Create server. Websocket connections are long-lived, so only header
	// reads are bounded.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chatrelay server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gateway shutdown incomplete")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("agent deliveries still pending")
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("agent runtimes failed to stop")
	}

	logger.Info().Uint64("dropped_log_lines", logWriter.Dropped()).Msg("server stopped")
	logWriter.Close()

	dataStore.Close()
	if redisStore != nil {
		redisStore.Close()
	}
}
