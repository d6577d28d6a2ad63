package health

import (
	"context"
	"sync"

	"notifyq/internal/config"
	"notifyq/internal/domain"
	"notifyq/internal/ports"

	"github.com/rs/zerolog/log"
)

// deactivationScore is the score below which a provider is marked inactive.
// Distinct from the read-time healthy gate (config.Health.MinScore): a
// provider can be active yet not healthy enough to serve as primary.
const deactivationScore = 0.5

// Tracker maintains per-provider health scores. Updates are read-modify-write
// against shared state, so they are serialized per provider; unlocked
// concurrent decrements would lose failures under load.
type Tracker struct {
	dir ports.ProviderDirectory
	cfg config.Health

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTracker(dir ports.ProviderDirectory, cfg config.Health) *Tracker {
	return &Tracker{
		dir:   dir,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lockFor(providerID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[providerID] = l
	}
	return l
}

// RecordFailure lowers the provider's score by the configured decrement,
// clamped at 0, deactivating it below 0.5, and persists the update.
func (t *Tracker) RecordFailure(ctx context.Context, p *domain.Provider) error {
	l := t.lockFor(p.ID)
	l.Lock()
	defer l.Unlock()

	fresh, err := t.dir.FindProviderByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if fresh != nil {
		p.HealthScore = fresh.HealthScore
	}

	p.HealthScore = clamp(p.HealthScore - t.cfg.FailureDecrement)
	p.IsActive = p.HealthScore >= deactivationScore

	if !p.IsActive {
		log.Ctx(ctx).Warn().
			Str("provider_id", p.ID).
			Float64("health_score", p.HealthScore).
			Msg("provider deactivated")
	}

	return t.dir.UpdateProviderHealth(ctx, p.ID, p.HealthScore, p.IsActive)
}

// RecordSuccess nudges the score back toward 1, reactivating the provider
// once it crosses the deactivation threshold again.
func (t *Tracker) RecordSuccess(ctx context.Context, p *domain.Provider) error {
	l := t.lockFor(p.ID)
	l.Lock()
	defer l.Unlock()

	fresh, err := t.dir.FindProviderByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if fresh != nil {
		p.HealthScore = fresh.HealthScore
	}

	p.HealthScore = clamp(p.HealthScore + t.cfg.SuccessIncrement)
	p.IsActive = p.HealthScore >= deactivationScore

	return t.dir.UpdateProviderHealth(ctx, p.ID, p.HealthScore, p.IsActive)
}

// IsHealthy applies the read-time gate, stricter than the deactivation
// threshold on purpose.
func (t *Tracker) IsHealthy(p *domain.Provider) bool {
	return p.HealthScore >= t.cfg.MinScore
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
