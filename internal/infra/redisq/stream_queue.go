package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ ports.Queue = (*Client)(nil)

func (c *Client) Enqueue(ctx context.Context, j domain.Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}

	j.Status = domain.StatusEnqueued
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	b, _ := json.Marshal(j)
	_, err := c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.StreamKey(j.QueueName),
		Values: map[string]interface{}{"job": b},
	}).Result()

	if err != nil {
		return "", err
	}
	_ = c.SaveState(ctx, j)
	return j.ID, nil
}

func (c *Client) EnqueueDelayed(ctx context.Context, j domain.Job, runAt time.Time) (string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.Status = domain.StatusDelayed
	j.NextRunAt = runAt
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	if err := c.SaveState(ctx, j); err != nil {
		return "", err
	}
	score := float64(runAt.UnixMilli())
	if err := c.Rdb.ZAdd(ctx, c.Cfg.ScheduledZSet, redis.Z{Score: score,
		Member: j.ID}).Err(); err != nil {
		return "", err
	}
	return j.ID, nil
}

// Claim leases one job from queueName. A job is leased to exactly one
// consumer at a time; concurrent workers receive distinct entries.
func (c *Client) Claim(ctx context.Context, queueName, consumer string, block time.Duration) (*domain.Job, string, error) {
	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Cfg.Group,
		Consumer: consumer,
		Streams:  []string{c.StreamKey(queueName), ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}

	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, "", nil
	}

	msg := res[0].Messages[0]
	j, err := DecodeJob(msg.Values["job"])
	if err != nil {
		return nil, "", err
	}
	return j, msg.ID, nil
}

// Ack acknowledges and deletes the stream entry. XACK alone only clears the
// PEL; without the XDEL the stream would accumulate every job ever enqueued
// and its length would stop meaning "work still waiting".
func (c *Client) Ack(ctx context.Context, queueName, leaseID string) error {
	pipe := c.Rdb.TxPipeline()
	pipe.XAck(ctx, c.StreamKey(queueName), c.Cfg.Group, leaseID)
	pipe.XDel(ctx, c.StreamKey(queueName), leaseID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) SaveState(ctx context.Context, j domain.Job) error {
	key := jobKey(j.ID)
	m := map[string]any{
		"status":        string(j.Status),
		"attempts_made": j.AttemptsMade,
		"type":          j.Type,
		"queue":         j.QueueName,
		"priority":      j.Priority,
		"enqueued_at":   j.EnqueuedAt.UnixMilli(),
		"next_run_at":   j.NextRunAt.UnixMilli(),
	}
	for k, v := range j.Payload {
		m["payload:"+k] = v
	}
	return c.Rdb.HSet(ctx, key, m).Err()
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Job, error) {
	h, err := c.Rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil || len(h) == 0 {
		return nil, err
	}

	j := &domain.Job{
		ID:      id,
		Payload: map[string]string{},
	}
	j.Type = h["type"]
	j.QueueName = h["queue"]
	j.Status = domain.JobStatus(h["status"])
	j.AttemptsMade, _ = strconv.Atoi(h["attempts_made"])
	j.Priority, _ = strconv.Atoi(h["priority"])
	if ms, err := strconv.ParseInt(h["enqueued_at"], 10, 64); err == nil {
		j.EnqueuedAt = time.UnixMilli(ms)
	}

	for k, v := range h {
		if len(k) > 8 && k[:8] == "payload:" {
			j.Payload[k[8:]] = v
		}
	}
	return j, nil
}

// DropState removes a job's state hash once the job is done with.
func (c *Client) DropState(ctx context.Context, id string) error {
	return c.Rdb.Del(ctx, jobKey(id)).Err()
}

func jobKey(id string) string { return fmt.Sprintf("nq:job:%s", id) }

// DecodeJob parses the job field of a stream entry.
func DecodeJob(raw any) (*domain.Job, error) {
	var j domain.Job
	switch v := raw.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &j); err != nil {
			return nil, err
		}
	case []byte:
		if err := json.Unmarshal(v, &j); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected job payload type: %T", v)
	}
	return &j, nil
}
