package selector

import (
	"context"
	"fmt"

	"notifyq/internal/domain"
	"notifyq/internal/health"
	"notifyq/internal/ports"

	"github.com/rs/zerolog/log"
)

// Selector picks an active, healthy provider for a (tenant, provider type,
// integration type) tuple, falling back at most one hop to the configured
// alternate. The hop cap keeps misconfigured fallback chains from looping.
type Selector struct {
	dir     ports.ProviderDirectory
	tracker *health.Tracker
}

func New(dir ports.ProviderDirectory, tracker *health.Tracker) *Selector {
	return &Selector{dir: dir, tracker: tracker}
}

func (s *Selector) Select(ctx context.Context, tenantID, providerType, integrationType string) (*domain.Provider, error) {
	primary, err := s.dir.FindProvider(ctx, tenantID, providerType, integrationType)
	if err != nil {
		return nil, fmt.Errorf("provider lookup failed: %w", err)
	}
	if primary == nil {
		return nil, domain.ErrNoProviderAvailable
	}

	if primary.IsActive && s.tracker.IsHealthy(primary) {
		return primary, nil
	}

	if primary.FallbackProviderID == "" {
		return nil, domain.ErrNoProviderAvailable
	}

	fallback, err := s.dir.FindProviderByID(ctx, primary.FallbackProviderID)
	if err != nil {
		return nil, fmt.Errorf("fallback lookup failed: %w", err)
	}
	if fallback == nil || !fallback.IsActive || !s.tracker.IsHealthy(fallback) {
		return nil, domain.ErrNoProviderAvailable
	}

	log.Ctx(ctx).Warn().
		Str("primary_id", primary.ID).
		Str("fallback_id", fallback.ID).
		Float64("primary_score", primary.HealthScore).
		Msg("primary provider degraded, using fallback")

	return fallback, nil
}
