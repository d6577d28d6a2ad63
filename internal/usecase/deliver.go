package usecase

import (
	"context"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/health"
	"notifyq/internal/metrics"
	"notifyq/internal/ports"
	"notifyq/internal/selector"

	"github.com/rs/zerolog/log"
)

// Payload keys carried by delivery jobs.
const (
	KeyUserID          = "user_id"
	KeyTenantID        = "tenant_id"
	KeySubject         = "subject"
	KeyBody            = "body"
	KeyProviderType    = "provider_type"
	KeyIntegrationType = "integration_type"
)

// Deliverer is the worker-side job handler: pick a provider, respect its
// rate limit, send, and feed the outcome to the health tracker.
type Deliverer struct {
	Selector  *selector.Selector
	Limiter   ports.RateLimiter
	Secrets   ports.SecretResolver
	Transport ports.Transport
	Tracker   *health.Tracker
	Metrics   *metrics.Collector
}

func (d *Deliverer) Handle(ctx context.Context, j domain.Job) error {
	provider, err := d.Selector.Select(ctx, j.Payload[KeyTenantID], j.Payload[KeyProviderType], j.Payload[KeyIntegrationType])
	if err != nil {
		return err
	}

	window := time.Duration(provider.RateResetInterval) * time.Second
	allowed, err := d.Limiter.Allow(ctx, provider.ID, provider.RateLimit, window)
	if err != nil || !allowed {
		d.Metrics.RecordRateLimited(provider.ID)
		return domain.ErrRateLimitExceeded
	}

	creds, err := d.Secrets.Resolve(ctx, provider.CredentialRef)
	if err != nil {
		return &domain.PermanentError{Err: err}
	}

	msg := domain.Message{
		UserID:  j.Payload[KeyUserID],
		Subject: j.Payload[KeySubject],
		Body:    j.Payload[KeyBody],
	}

	start := time.Now()
	sendErr := d.Transport.Send(ctx, provider.APIEndpoint, creds, msg)
	outcome := domain.DeliveryOutcome{
		JobID:      j.ID,
		ProviderID: provider.ID,
		Succeeded:  sendErr == nil,
		Latency:    time.Since(start),
		ErrorClass: domain.ErrorClass(sendErr),
	}

	if sendErr != nil {
		if recErr := d.Tracker.RecordFailure(ctx, provider); recErr != nil {
			log.Ctx(ctx).Err(recErr).Str("provider_id", provider.ID).Msg("failed to record provider failure")
		}
		log.Ctx(ctx).Warn().
			Str("job_id", j.ID).
			Str("provider_id", provider.ID).
			Str("error_class", outcome.ErrorClass).
			Dur("latency", outcome.Latency).
			Msg("delivery attempt failed")
		return sendErr
	}

	if recErr := d.Tracker.RecordSuccess(ctx, provider); recErr != nil {
		log.Ctx(ctx).Err(recErr).Str("provider_id", provider.ID).Msg("failed to record provider success")
	}
	log.Ctx(ctx).Info().
		Str("job_id", j.ID).
		Str("provider_id", provider.ID).
		Dur("latency", outcome.Latency).
		Msg("delivered")
	return nil
}
