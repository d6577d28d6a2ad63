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

const (
	dlqIndexKey  = "nq:dlq:index" // zset: score=moved_at_ms, member=job_id
	dlqEntryPref = "nq:dlq:job:"  // hash per entry
)

var _ ports.DeadLetterStore = (*DeadLetter)(nil)

// DeadLetter holds jobs that exhausted their retry policy. Entries persist
// until replayed or purged by an operator; nothing is dropped silently.
type DeadLetter struct {
	C *Client
}

func NewDeadLetter(c *Client) *DeadLetter {
	return &DeadLetter{C: c}
}

// Move appends an entry for j. Idempotent: moving the same job twice leaves
// a single entry keyed by the original job ID.
func (d *DeadLetter) Move(ctx context.Context, j domain.Job, reason string) error {
	now := time.Now()

	added, err := d.C.Rdb.ZAddNX(ctx, dlqIndexKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: j.ID,
	}).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		log.Ctx(ctx).Debug().Str("job_id", j.ID).Msg("job already dead-lettered")
		return nil
	}

	m := map[string]any{
		"original_job_id": j.ID,
		"original_queue":  j.QueueName,
		"job_type":        j.Type,
		"priority":        j.Priority,
		"failure_reason":  reason,
		"moved_at":        now.UnixMilli(),
	}
	for k, v := range j.Payload {
		m["payload:"+k] = v
	}

	pipe := d.C.Rdb.Pipeline()
	pipe.HSet(ctx, dlqEntryPref+j.ID, m)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: d.C.Cfg.DLQStreamKey,
		Values: map[string]interface{}{"job_id": j.ID, "reason": reason},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	j.Status = domain.StatusDead
	return d.C.SaveState(ctx, j)
}

// ReplayAll resubmits entries in arrival order. An entry is cleared only
// after its job is accepted back by the queue; acceptance is not delivery.
func (d *DeadLetter) ReplayAll(ctx context.Context) (int, error) {
	ids, err := d.C.Rdb.ZRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		entry, err := d.entry(ctx, id)
		if err != nil || entry == nil {
			continue
		}

		// Skip entries whose underlying job record no longer exists.
		j, err := d.C.Get(ctx, id)
		if err != nil || j == nil {
			continue
		}

		j.Status = domain.StatusEnqueued
		j.AttemptsMade = 0
		j.QueueName = entry.OriginalQueueName
		if _, err := d.C.Enqueue(ctx, *j); err != nil {
			log.Ctx(ctx).Err(err).Str("job_id", id).Msg("dead-letter replay resubmission failed")
			continue
		}

		pipe := d.C.Rdb.Pipeline()
		pipe.ZRem(ctx, dlqIndexKey, id)
		pipe.Del(ctx, dlqEntryPref+id)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Ctx(ctx).Err(err).Str("job_id", id).Msg("failed to clear replayed entry")
			continue
		}
		count++
	}
	return count, nil
}

// Stats reports dead-lettered, waiting, and delayed job counts across the
// registered queues.
func (d *DeadLetter) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	var stats domain.DeadLetterStats

	failed, err := d.C.Rdb.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return stats, err
	}
	stats.Failed = failed

	delayed, err := d.C.Rdb.ZCard(ctx, d.C.Cfg.ScheduledZSet).Result()
	if err != nil {
		return stats, err
	}
	stats.Delayed = delayed

	queues, err := d.C.QueueNames(ctx)
	if err != nil {
		return stats, err
	}
	for _, q := range queues {
		n, err := d.C.Rdb.XLen(ctx, d.C.StreamKey(q)).Result()
		if err != nil {
			return stats, err
		}
		// Acked entries are deleted from the stream, so its length is
		// unclaimed plus in-flight work; subtract the PEL to count only
		// jobs still waiting for a worker.
		pending, err := d.C.Rdb.XPending(ctx, d.C.StreamKey(q), d.C.Cfg.Group).Result()
		if err != nil {
			return stats, err
		}
		stats.Waiting += n - pending.Count
	}
	return stats, nil
}

func (d *DeadLetter) entry(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	h, err := d.C.Rdb.HGetAll(ctx, dlqEntryPref+id).Result()
	if err != nil || len(h) == 0 {
		return nil, err
	}

	e := &domain.DeadLetterEntry{
		OriginalJobID:     h["original_job_id"],
		OriginalQueueName: h["original_queue"],
		JobType:           h["job_type"],
		FailureReason:     h["failure_reason"],
		Payload:           map[string]string{},
	}
	e.Priority, _ = strconv.Atoi(h["priority"])
	if ms, err := strconv.ParseInt(h["moved_at"], 10, 64); err == nil {
		e.MovedAt = time.UnixMilli(ms)
	}
	for k, v := range h {
		if len(k) > 8 && k[:8] == "payload:" {
			e.Payload[k[8:]] = v
		}
	}
	return e, nil
}
