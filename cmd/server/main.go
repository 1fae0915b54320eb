package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/broker"
	"github.com/chatlink/bridge-server-go/internal/chat/agent"
	"github.com/chatlink/bridge-server-go/internal/config"
	"github.com/chatlink/bridge-server-go/internal/database"
	"github.com/chatlink/bridge-server-go/internal/handler"
	"github.com/chatlink/bridge-server-go/internal/jobs"
	"github.com/chatlink/bridge-server-go/internal/middleware"
	"github.com/chatlink/bridge-server-go/internal/redis"
	"github.com/chatlink/bridge-server-go/internal/relay"
	"github.com/chatlink/bridge-server-go/internal/repository"
	"github.com/chatlink/bridge-server-go/internal/retry"
	"github.com/chatlink/bridge-server-go/internal/session"
	"github.com/chatlink/bridge-server-go/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("RAILWAY_ENVIRONMENT") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	var backend store.Backend
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		backend = store.NewRedisBackend(redisClient)
		log.Info().Msg("redis connected, using redis session store")
	} else {
		backend = store.NewMemoryBackend()
		log.Warn().Msg("REDIS_URL not set, using in-memory session store")
	}

	sessionStore := store.New(backend, store.Config{
		SessionTTL: cfg.SessionTTL(),
		PairingTTL: cfg.PairingTTL(),
		StatusTTL:  cfg.StatusTTL(),
	})

	messageRepo := repository.NewMessageRepository(db.DB)
	counterpartyRepo := repository.NewCounterpartyRepository(db.DB)

	eventBroker := broker.New()
	defer eventBroker.Close()

	manager := session.NewManager(sessionStore, eventBroker, agent.NewFactory(cfg.AgentBaseURL), session.Config{
		PairingTTL: cfg.PairingTTL(),
	})
	defer manager.Close()

	messageRelay := relay.New(messageRepo, counterpartyRepo, manager, eventBroker)
	manager.SetInboundHandler(messageRelay.HandleIncoming)

	scheduler := retry.NewScheduler(messageRepo, messageRelay, retry.Config{
		MaxAttempts: cfg.RetryMaxAttempts,
		Delay:       cfg.RetryDelay(),
		Backoff:     retry.BackoffPolicy(cfg.RetryBackoff),
		BatchSize:   config.RetryBatchSize,
		Retention:   cfg.Retention(),
	})

	tokenVerifier := broker.NewTokenVerifier(cfg.JWTSecret)
	authMiddleware := middleware.NewAuthMiddleware(tokenVerifier)

	sessionHandler := handler.NewSessionHandler(manager, messageRelay)
	eventsHandler := handler.NewEventsHandler(eventBroker)
	webhookHandler := handler.NewWebhookHandler(messageRelay)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Mount("/", sessionHandler.Routes())
	})

	r.Route("/webhook", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Post("/delivery-status", webhookHandler.DeliveryStatus)
	})

	retryJob := jobs.NewRetryJob(scheduler, config.RetryJobInterval)
	retryJob.Start()
	defer retryJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// SSE connections stay open; no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
