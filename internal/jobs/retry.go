package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/retry"
)

// RetryJob periodically runs a retry pass followed by a retention
// cleanup pass.
type RetryJob struct {
	scheduler *retry.Scheduler
	interval  time.Duration
	done      chan struct{}
}

func NewRetryJob(scheduler *retry.Scheduler, interval time.Duration) *RetryJob {
	return &RetryJob{
		scheduler: scheduler,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *RetryJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("retry job started")
}

func (j *RetryJob) Stop() {
	close(j.done)
	log.Info().Msg("retry job stopped")
}

func (j *RetryJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.pass()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.pass()
		}
	}
}

func (j *RetryJob) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := j.scheduler.RunRetryPass(ctx); err != nil {
		log.Error().Err(err).Msg("retry pass failed")
	}
	if _, err := j.scheduler.RunCleanupPass(ctx); err != nil {
		log.Error().Err(err).Msg("retention cleanup failed")
	}
}
