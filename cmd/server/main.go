package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/access"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/api"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/broker"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/config"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/crypto"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/handlers"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/keys"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/messages"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/pubsub"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/ratelimit"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/store"
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

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Storage
	kv, err := store.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("storage init failed")
	}
	defer kv.Close()
	logger.Info().Str("backend", kv.Name()).Msg("storage ready")

	// Message encryption
	var salt []byte
	if cfg.KDFSalt != "" {
		salt = []byte(cfg.KDFSalt)
	}
	cipher, err := crypto.NewCipher(cfg.APISecret, salt)
	if err != nil {
		logger.Fatal().Err(err).Msg("cipher init failed")
	}
	if cfg.IsDevelopment() && os.Getenv("API_SECRET") == "" {
		logger.Warn().Msg("API_SECRET not set, using the development secret")
	}

	keyStore := keys.NewStore(kv)
	msgStore := messages.NewStore(kv, cipher,
		messages.WithRetention(cfg.MessageRetention),
		messages.WithLogger(logger),
	)
	go msgStore.RunReclaimer(ctx, cfg.SweepInterval)

	// Rate limiting
	var apiWindows, registerWindows ratelimit.WindowStore
	switch cfg.RateLimitBackend {
	case "redis":
		rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis rate limiter connection failed")
		}
		defer rs.Close()
		apiWindows = ratelimit.NewRedisWindows(rs.Client())
		registerWindows = apiWindows
		logger.Info().Msg("rate limiter using Redis")
	default:
		apiWindows = ratelimit.NewMemoryWindows()
		registerWindows = ratelimit.NewMemoryWindows()
	}
	limiter := ratelimit.New(apiWindows, cfg.RateLimitMax, cfg.RateLimitWindow)
	registerLimiter := ratelimit.New(registerWindows, cfg.RegisterRateLimit, cfg.RegisterRateWindow)

	accessList, err := access.New(cfg.Whitelist, cfg.Blacklist)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid access lists")
	}
	if allow, deny := accessList.Sizes(); allow+deny > 0 {
		logger.Info().Int("whitelist", allow).Int("blacklist", deny).Msg("access lists configured")
	}

	// Live notifications
	deps := handlers.Deps{
		KV:       kv,
		Keys:     keyStore,
		Messages: msgStore,
		Logger:   logger,
	}
	switch {
	case cfg.BrokerEnabled:
		b, err := broker.New(broker.Options{
			TCPAddr: cfg.BrokerTCPAddr,
			WSAddr:  cfg.BrokerWSAddr,
			Keys:    keyStore,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("mqtt broker init failed")
		}
		b.Start()
		defer b.Close()
		deps.Publisher = pubsub.NewBrokerPublisher(b)
		deps.Subscribers = b
	case cfg.MQTTURL != "":
		p, err := pubsub.NewMQTTPublisher(pubsub.MQTTOptions{
			URL:      cfg.MQTTURL,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("mqtt connection failed")
		}
		defer p.Close()
		deps.Publisher = p
	default:
		deps.Publisher = pubsub.NopPublisher{}
	}

	// Create router
	router := api.NewRouter(logger, api.Options{
		Handlers:        deps,
		Access:          accessList,
		Limiter:         limiter,
		RegisterLimiter: registerLimiter,
		TrustedIPs:      cfg.TrustedIPs,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("storage", kv.Name()).
			Str("publisher", deps.Publisher.Name()).
			Int("rate_limit", limiter.Limit()).
			Dur("rate_window", limiter.Window()).
			Dur("retention", msgStore.Retention()).
			Msg("starting OpenClaw hub")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	stop()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
