package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/teamchat/internal/api"
	"github.com/eldtechnologies/teamchat/internal/api/middleware"
	"github.com/eldtechnologies/teamchat/internal/chat"
	"github.com/eldtechnologies/teamchat/internal/config"
	"github.com/eldtechnologies/teamchat/internal/crypto"
	"github.com/eldtechnologies/teamchat/internal/events"
	"github.com/eldtechnologies/teamchat/internal/gate"
	"github.com/eldtechnologies/teamchat/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Message encryption key
	codec, err := newCodec(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("message codec unavailable")
	}

	// Message store (runs migrations for postgres)
	ds, err := store.Open(ctx, store.Options{
		Backend:     cfg.Store,
		DatabaseURL: cfg.DatabaseURL,
		MongoURL:    cfg.MongoURL,
		MongoDB:     cfg.MongoDB,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("store connection failed")
	}
	defer ds.Close()
	logger.Info().Str("store", cfg.Store).Msg("message store ready")

	if cfg.SeedFile != "" {
		if err := seedDirectory(ctx, ds, cfg.SeedFile); err != nil {
			logger.Fatal().Err(err).Msg("directory seed failed")
		}
		logger.Info().Str("file", cfg.SeedFile).Msg("directory seeded")
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Domain events
	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp connection failed")
		}
		defer amqpPub.Close()
		publisher = amqpPub
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to RabbitMQ")
	}

	svc := chat.New(ds, ds, gate.New(ds, logger), codec, publisher, logger, chat.Options{
		OperationTimeout: cfg.RequestTimeout / 2,
	})

	// Create router
	router := api.NewRouter(logger, api.Options{
		Service:        svc,
		Store:          ds,
		Redis:          redisStore,
		Events:         publisher,
		JWTSecret:      []byte(cfg.JWTSecret),
		RequestTimeout: cfg.RequestTimeout,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting teamchat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// newCodec builds the message codec from MESSAGE_ENCRYPTION_KEY. Without a
// key, development may run on a throwaway key when ALLOW_EPHEMERAL_KEY=true.
func newCodec(cfg *config.Config, logger zerolog.Logger) (*crypto.Codec, error) {
	if cfg.MessageEncryptionKey != "" {
		key, err := crypto.ParseKey(cfg.MessageEncryptionKey)
		if err != nil {
			return nil, err
		}
		return crypto.NewCodec(key, logger)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	logger.Warn().
		Str("type", "security").
		Str("event", "ephemeral_key").
		Msg("MESSAGE_ENCRYPTION_KEY not set: using a random key, messages written now will be unreadable after restart")
	return crypto.NewCodec(key, logger)
}

func seedDirectory(ctx context.Context, ds store.DataStore, path string) error {
	w, ok := ds.(store.DirectoryWriter)
	if !ok {
		return nil
	}
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}
	return seed.Apply(ctx, w)
}
