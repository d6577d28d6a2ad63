package redisq

import (
	"context"
	"time"

	"notifyq/internal/ports"

	"github.com/rs/zerolog/log"
)

var _ ports.RateLimiter = (*RateLimiter)(nil)

// RateLimiter counts requests per provider in a rolling reset window backed
// by a shared redis counter, so the cap holds across workers and processes.
type RateLimiter struct {
	C *Client
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{C: c}
}

// Allow atomically increments the provider's window counter and reports
// whether the request fits under limit. The expiry is attached to the first
// increment of the window. Fails closed: a store error denies the request
// rather than risking provider overload.
func (r *RateLimiter) Allow(ctx context.Context, providerID string, limit int, window time.Duration) (bool, error) {
	key := "nq:rl:" + providerID

	pipe := r.C.Rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Ctx(ctx).Err(err).Str("provider_id", providerID).Msg("rate limit store unavailable, denying")
		return false, err
	}

	return incr.Val() <= int64(limit), nil
}
