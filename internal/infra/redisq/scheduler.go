package redisq

import (
	"context"
	"strconv"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Scheduler = (*Scheduler)(nil)

// Scheduler moves due jobs from the scheduled ZSET back onto their queue
// streams. Backoff resubmission is a delayed enqueue, so this is also the
// retry delivery mechanism.
type Scheduler struct {
	C        *Client
	Interval time.Duration
}

func NewScheduler(c *Client, interval time.Duration) *Scheduler {
	return &Scheduler{C: c, Interval: interval}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if err := s.moveDue(ctx); err != nil {
			log.Ctx(ctx).Err(err).Msg("scheduler pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) moveDue(ctx context.Context) error {
	ids, err := s.C.Rdb.ZRangeByScore(ctx, s.C.Cfg.ScheduledZSet, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmtFloat(nowMs()),
		Offset: 0,
		Count:  128,
	}).Result()

	if err != nil {
		return err
	}

	for _, id := range ids {
		j, err := s.C.Get(ctx, id)
		if err != nil || j == nil {
			// State hash is gone; drop the orphaned member.
			_ = s.C.Rdb.ZRem(ctx, s.C.Cfg.ScheduledZSet, id).Err()
			continue
		}

		j.Status = domain.StatusEnqueued
		if _, err := s.C.Enqueue(ctx, *j); err != nil {
			log.Ctx(ctx).Err(err).Str("job_id", id).Msg("failed to move due job")
			continue
		}
		_ = s.C.Rdb.ZRem(ctx, s.C.Cfg.ScheduledZSet, id).Err()
	}
	return nil
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
