package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"notifyq/internal/config"
	"notifyq/internal/ports"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var _ ports.AlertSink = (*Webhook)(nil)

// Webhook posts operational alerts to a configured endpoint. Fire-and-forget:
// failures are logged, never returned, so alerting can't mask the failure
// that triggered it. A token bucket caps the post rate during failure storms.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhook(cfg config.Alert) *Webhook {
	return &Webhook{
		url:     cfg.WebhookURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

func (w *Webhook) Post(ctx context.Context, message string, fields map[string]string) {
	if w.url == "" {
		log.Ctx(ctx).Warn().Str("alert", message).Msg("no alert webhook configured")
		return
	}
	if !w.limiter.Allow() {
		log.Ctx(ctx).Warn().Str("alert", message).Msg("alert throttled")
		return
	}

	body, err := json.Marshal(map[string]any{
		"message": message,
		"context": fields,
		"at":      time.Now().Format(time.RFC3339),
	})
	if err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to encode alert")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		log.Ctx(ctx).Err(err).Str("alert", message).Msg("alert post failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Ctx(ctx).Warn().Int("status", resp.StatusCode).Str("alert", message).Msg("alert sink rejected post")
	}
}
