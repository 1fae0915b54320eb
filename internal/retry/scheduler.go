// Package retry re-drives failed outbound messages and enforces the
// retention window on terminal records. The scheduler runs as a
// periodic pass; each pass is bounded by a batch size so a backlog
// never monopolizes the session.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/model"
	"github.com/chatlink/bridge-server-go/internal/repository"
)

// Sender retries one existing record. Satisfied by relay.Relay.
type Sender interface {
	Resend(ctx context.Context, record *model.MessageRecord) error
}

type BackoffPolicy string

const (
	BackoffLinear      BackoffPolicy = "linear"
	BackoffExponential BackoffPolicy = "exponential"
)

type Config struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     BackoffPolicy
	BatchSize   int
	Retention   time.Duration
}

type Scheduler struct {
	messages repository.MessageRepository
	sender   Sender
	cfg      Config

	// sleep is swapped out in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(messages repository.MessageRepository, sender Sender, cfg Config) *Scheduler {
	return &Scheduler{
		messages: messages,
		sender:   sender,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns the wait before the given attempt (1-based). Linear
// grows as delay*attempt, exponential doubles from delay.
func (s *Scheduler) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if s.cfg.Backoff == BackoffExponential {
		return s.cfg.Delay * time.Duration(1<<(attempt-1))
	}
	return s.cfg.Delay * time.Duration(attempt)
}

type RetryStats struct {
	Scanned   int
	Succeeded int
	Failed    int
	Deferred  int
	Exhausted int
}

// RunRetryPass scans one batch of retryable messages and re-drives
// each. A message that fails at the attempt cap is stamped
// MAX_RETRIES_EXCEEDED and never scanned again.
func (s *Scheduler) RunRetryPass(ctx context.Context) (RetryStats, error) {
	var stats RetryStats

	records, err := s.messages.FindRetryable(ctx, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return stats, apperrors.Database(err)
	}
	stats.Scanned = len(records)
	if len(records) == 0 {
		return stats, nil
	}

	log.Info().Int("count", len(records)).Msg("retry pass started")

	for i := range records {
		record := &records[i]

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		attempt := record.RetryCount + 1
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			return stats, err
		}

		sendErr := s.sender.Resend(ctx, record)

		// A down session is not a delivery verdict; the attempt is not
		// counted and the record waits for a pass with the session up.
		if sendErr != nil && apperrors.GetCode(sendErr) == apperrors.ErrCodeSessionNotActive {
			stats.Deferred++
			log.Debug().Str("messageId", record.ID).Msg("session not active, retry deferred")
			continue
		}

		count, err := s.messages.IncrementRetry(ctx, record.ID)
		if err != nil {
			log.Error().Err(err).Str("messageId", record.ID).Msg("failed to increment retry count")
			count = attempt
		}
		record.RetryCount = count

		if sendErr != nil {
			if count >= s.cfg.MaxAttempts {
				s.markExhausted(ctx, record)
				stats.Exhausted++
			} else {
				stats.Failed++
			}
			log.Warn().Err(sendErr).
				Str("messageId", record.ID).
				Int("attempt", count).
				Int("maxAttempts", s.cfg.MaxAttempts).
				Msg("retry attempt failed")
			continue
		}

		stats.Succeeded++
		log.Info().
			Str("messageId", record.ID).
			Int("attempt", count).
			Msg("retry succeeded")
	}

	log.Info().
		Int("scanned", stats.Scanned).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("deferred", stats.Deferred).
		Int("exhausted", stats.Exhausted).
		Msg("retry pass finished")
	return stats, nil
}

func (s *Scheduler) markExhausted(ctx context.Context, record *model.MessageRecord) {
	code := string(apperrors.ErrCodeMaxRetriesExceeded)
	message := apperrors.MaxRetriesExceeded().Message
	if err := s.messages.UpdateSendResult(ctx, record.ID, record.ProviderMessageID, model.MessageStatusFailed, &code, &message); err != nil {
		log.Error().Err(err).Str("messageId", record.ID).Msg("failed to mark message exhausted")
	}
}

// RunCleanupPass deletes terminal messages older than the retention
// window.
func (s *Scheduler) RunCleanupPass(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.Retention)
	deleted, err := s.messages.DeleteOldTerminal(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("retention cleanup removed old messages")
	}
	return deleted, nil
}
