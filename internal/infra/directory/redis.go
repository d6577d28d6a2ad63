package directory

import (
	"context"
	"fmt"
	"strconv"

	"notifyq/internal/domain"
	"notifyq/internal/ports"

	"github.com/redis/go-redis/v9"
)

var _ ports.ProviderDirectory = (*Redis)(nil)

// Redis is a hash-backed provider directory. Providers are administered
// elsewhere; this side only reads them and writes health updates.
type Redis struct {
	Rdb *redis.Client
}

func New(rdb *redis.Client) *Redis {
	return &Redis{Rdb: rdb}
}

func providerKey(id string) string { return "nq:provider:" + id }

func tupleKey(tenantID, providerType, integrationType string) string {
	return fmt.Sprintf("nq:provider:idx:%s:%s:%s", tenantID, providerType, integrationType)
}

// Save writes a provider and its tuple index. Used by administration and
// test fixtures; the delivery path never creates providers.
func (d *Redis) Save(ctx context.Context, p domain.Provider) error {
	pipe := d.Rdb.Pipeline()
	pipe.HSet(ctx, providerKey(p.ID), map[string]any{
		"tenant_id":            p.TenantID,
		"provider_type":        p.ProviderType,
		"integration_type":     p.IntegrationType,
		"api_endpoint":         p.APIEndpoint,
		"credential_ref":       string(p.CredentialRef),
		"is_active":            strconv.FormatBool(p.IsActive),
		"health_score":         p.HealthScore,
		"rate_limit":           p.RateLimit,
		"rate_reset_interval":  p.RateResetInterval,
		"fallback_provider_id": p.FallbackProviderID,
	})
	pipe.SAdd(ctx, tupleKey(p.TenantID, p.ProviderType, p.IntegrationType), p.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// FindProvider returns the provider registered for the tuple, preferring an
// active one when several match. Health gating is the selector's concern, so
// an inactive match is still returned rather than hidden.
func (d *Redis) FindProvider(ctx context.Context, tenantID, providerType, integrationType string) (*domain.Provider, error) {
	ids, err := d.Rdb.SMembers(ctx, tupleKey(tenantID, providerType, integrationType)).Result()
	if err != nil {
		return nil, err
	}
	var first *domain.Provider
	for _, id := range ids {
		p, err := d.FindProviderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if p.IsActive {
			return p, nil
		}
		if first == nil {
			first = p
		}
	}
	return first, nil
}

func (d *Redis) FindProviderByID(ctx context.Context, id string) (*domain.Provider, error) {
	h, err := d.Rdb.HGetAll(ctx, providerKey(id)).Result()
	if err != nil || len(h) == 0 {
		return nil, err
	}

	p := &domain.Provider{
		ID:                 id,
		TenantID:           h["tenant_id"],
		ProviderType:       h["provider_type"],
		IntegrationType:    h["integration_type"],
		APIEndpoint:        h["api_endpoint"],
		CredentialRef:      domain.CredentialRef(h["credential_ref"]),
		FallbackProviderID: h["fallback_provider_id"],
	}
	p.IsActive, _ = strconv.ParseBool(h["is_active"])
	p.HealthScore, _ = strconv.ParseFloat(h["health_score"], 64)
	p.RateLimit, _ = strconv.Atoi(h["rate_limit"])
	p.RateResetInterval, _ = strconv.Atoi(h["rate_reset_interval"])
	return p, nil
}

func (d *Redis) UpdateProviderHealth(ctx context.Context, id string, score float64, isActive bool) error {
	return d.Rdb.HSet(ctx, providerKey(id), map[string]any{
		"health_score": score,
		"is_active":    strconv.FormatBool(isActive),
	}).Err()
}
