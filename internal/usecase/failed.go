package usecase

import (
	"context"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/ports"
	"notifyq/internal/retry"

	"github.com/rs/zerolog/log"
)

// Orchestrator decides what happens to a failed job: resubmit with backoff
// under the retry policy, or dead-letter it and raise an alert. Its own
// failure path never recurses into job-failure handling; dead-letter moves
// and alerts are best-effort.
type Orchestrator struct {
	Queue  ports.Queue
	DLQ    ports.DeadLetterStore
	Engine *retry.Engine
	Alerts ports.AlertSink
}

func (o *Orchestrator) Handle(ctx context.Context, j domain.Job, jobErr error) {
	maxAttempts := o.Engine.MaxAttempts(j.Type)

	if o.Engine.ShouldRetry(j, jobErr) && j.AttemptsMade < maxAttempts {
		delay := o.Engine.BackoffDelay(j.Type, j.AttemptsMade)
		// Priority rides along unchanged; only the run time moves.
		if _, err := o.Queue.EnqueueDelayed(ctx, j, time.Now().Add(delay)); err != nil {
			log.Ctx(ctx).Err(err).Str("job_id", j.ID).Msg("retry resubmission failed, dead-lettering")
			o.deadLetter(ctx, j, jobErr)
			return
		}
		log.Ctx(ctx).Info().
			Str("job_id", j.ID).
			Int("attempts_made", j.AttemptsMade).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Msg("job scheduled for retry")
		return
	}

	o.deadLetter(ctx, j, jobErr)
}

func (o *Orchestrator) deadLetter(ctx context.Context, j domain.Job, jobErr error) {
	reason := "unknown failure"
	if jobErr != nil {
		reason = jobErr.Error()
	}

	if err := o.DLQ.Move(ctx, j, reason); err != nil {
		log.Ctx(ctx).Err(err).Str("job_id", j.ID).Msg("dead-letter move failed")
	}

	o.Alerts.Post(ctx, "job exhausted retries", map[string]string{
		"job_id":   j.ID,
		"job_type": j.Type,
		"queue":    j.QueueName,
		"reason":   reason,
	})
}
