// Command retrybatch runs one retry pass and one retention cleanup
// pass against the database, then exits. It is meant for cron-style
// schedulers; the server runs the same passes on its own interval.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/broker"
	"github.com/chatlink/bridge-server-go/internal/chat/agent"
	"github.com/chatlink/bridge-server-go/internal/config"
	"github.com/chatlink/bridge-server-go/internal/database"
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

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var backend store.Backend
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		backend = store.NewRedisBackend(redisClient)
	} else {
		backend = store.NewMemoryBackend()
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stats, err := scheduler.RunRetryPass(ctx)
	if err != nil {
		log.Error().Err(err).Msg("retry pass failed")
		os.Exit(1)
	}

	deleted, err := scheduler.RunCleanupPass(ctx)
	if err != nil {
		log.Error().Err(err).Msg("retention cleanup failed")
		os.Exit(1)
	}

	log.Info().
		Int("scanned", stats.Scanned).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("deferred", stats.Deferred).
		Int("exhausted", stats.Exhausted).
		Int64("deleted", deleted).
		Msg("retry batch finished")
}
