package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"notifyq/internal/config"
	"notifyq/internal/domain"
	"notifyq/internal/health"
	"notifyq/internal/metrics"
	"notifyq/internal/ports"
	"notifyq/internal/selector"
	"notifyq/pkg/backoff"

	"github.com/rs/zerolog/log"
)

// Dispatcher is the top-level entry point. Queued sends go through the job
// queue and the worker retry pipeline; direct sends run their own bounded
// linear-backoff loop with a single fallback attempt. The two retry loops
// are deliberately separate strategies.
type Dispatcher struct {
	Queue     ports.Queue
	Prefs     ports.PreferenceStore
	Directory ports.ProviderDirectory
	Limiter   ports.RateLimiter
	Secrets   ports.SecretResolver
	Transport ports.Transport
	Selector  *selector.Selector
	Tracker   *health.Tracker
	Alerts    ports.AlertSink
	Metrics   *metrics.Collector
	Direct    config.Direct
}

// SendNotification resolves preferences and template, compiles the message,
// and enqueues one delivery job per preferred channel. Enqueue failures are
// logged and swallowed: the caller is acknowledged at "accepted", and
// eventual failure surfaces through dead-letter stats and alerts only.
func (d *Dispatcher) SendNotification(ctx context.Context, userID, messageType string, data map[string]string) error {
	tenantID := data[KeyTenantID]

	prefs, err := d.Prefs.GetPreferences(ctx, userID, tenantID, messageType)
	if err != nil {
		return fmt.Errorf("preference lookup failed: %w", err)
	}
	if prefs == nil || !prefs.Enabled || len(prefs.ChannelIDs) == 0 {
		log.Ctx(ctx).Debug().Str("user_id", userID).Str("message_type", messageType).Msg("notifications disabled for user")
		return nil
	}

	tmpl, err := d.Prefs.GetTemplate(ctx, messageType, prefs.ChannelIDs)
	if err != nil {
		return fmt.Errorf("template lookup failed: %w", err)
	}
	if tmpl == nil {
		// No template registered: pass the subject and body fields through.
		tmpl = &domain.Template{MessageType: messageType, Subject: "{{subject}}", Body: "{{body}}"}
	}

	subject, body := compile(tmpl, data)
	priority, _ := strconv.Atoi(data["priority"])

	for _, channel := range prefs.ChannelIDs {
		j := domain.Job{
			Type:      messageType,
			QueueName: channel,
			Priority:  priority,
			Payload: map[string]string{
				KeyUserID:          userID,
				KeyTenantID:        tenantID,
				KeySubject:         subject,
				KeyBody:            body,
				KeyProviderType:    channel,
				KeyIntegrationType: data[KeyIntegrationType],
			},
		}
		if _, err := d.Queue.Enqueue(ctx, j); err != nil {
			d.Metrics.RecordEnqueueFailure()
			log.Ctx(ctx).Err(err).
				Str("user_id", userID).
				Str("channel", channel).
				Msg("enqueue failed, notification dropped")
		}
	}
	return nil
}

// ProcessNotification sends synchronously for latency-sensitive callers:
// up to MaxRetries attempts against the selected provider with a linearly
// growing sleep between attempts, then one shot at the fallback provider,
// then an alert plus the final error.
func (d *Dispatcher) ProcessNotification(ctx context.Context, userID string, msg domain.Message, channel string) error {
	if msg.UserID == "" {
		msg.UserID = userID
	}

	provider, err := d.Selector.Select(ctx, msg.TenantID, channel, "")
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= d.Direct.MaxRetries; attempt++ {
		lastErr = d.attempt(ctx, provider, msg)
		if lastErr == nil {
			return nil
		}
		if domain.IsPermanent(lastErr) {
			break
		}
		if attempt == d.Direct.MaxRetries {
			break
		}

		delay := backoff.Linear(d.Direct.BaseDelay, time.Minute, attempt)
		log.Ctx(ctx).Warn().
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(lastErr).
			Msg("direct send failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// One fallback attempt, then give up loudly.
	if provider.FallbackProviderID != "" {
		fb, fbErr := d.Directory.FindProviderByID(ctx, provider.FallbackProviderID)
		if fbErr == nil && fb != nil && fb.IsActive {
			log.Ctx(ctx).Warn().
				Str("primary_id", provider.ID).
				Str("fallback_id", fb.ID).
				Msg("direct send falling back")
			if err := d.attempt(ctx, fb, msg); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
	}

	d.Alerts.Post(ctx, "direct send exhausted", map[string]string{
		"user_id":     userID,
		"channel":     channel,
		"provider_id": provider.ID,
		"error":       lastErr.Error(),
	})
	return fmt.Errorf("direct send failed after %d attempts: %w", d.Direct.MaxRetries, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, provider *domain.Provider, msg domain.Message) error {
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

	if err := d.Transport.Send(ctx, provider.APIEndpoint, creds, msg); err != nil {
		if !errors.Is(err, context.Canceled) {
			if recErr := d.Tracker.RecordFailure(ctx, provider); recErr != nil {
				log.Ctx(ctx).Err(recErr).Str("provider_id", provider.ID).Msg("failed to record provider failure")
			}
		}
		return err
	}

	if recErr := d.Tracker.RecordSuccess(ctx, provider); recErr != nil {
		log.Ctx(ctx).Err(recErr).Str("provider_id", provider.ID).Msg("failed to record provider success")
	}
	return nil
}

// compile substitutes {{key}} tokens in the template with values from data.
func compile(tmpl *domain.Template, data map[string]string) (string, string) {
	subject, body := tmpl.Subject, tmpl.Body
	for k, v := range data {
		token := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, token, v)
		body = strings.ReplaceAll(body, token, v)
	}
	return subject, body
}
