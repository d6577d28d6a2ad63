package redisq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyq/internal/config"
	"notifyq/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const queueSetKey = "nq:queues"

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

// StreamKey maps a logical queue name to its redis stream.
func (c *Client) StreamKey(queueName string) string {
	return c.Cfg.StreamPrefix + queueName
}

// InitQueue ensures the stream and consumer group for queueName exist and
// registers the queue so stats and shutdown can enumerate it.
func (c *Client) InitQueue(ctx context.Context, queueName string) error {
	err := c.Rdb.XGroupCreateMkStream(ctx, c.StreamKey(queueName), c.Cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP Consumer Group name already exists") {
		return &domain.QueueInitError{QueueName: queueName, Err: err}
	}

	if err := c.Rdb.SAdd(ctx, queueSetKey, queueName).Err(); err != nil {
		return &domain.QueueInitError{QueueName: queueName, Err: err}
	}

	log.Ctx(ctx).Info().
		Str("queue", queueName).
		Str("group", c.Cfg.Group).
		Msg("redis stream and consumer group ready")

	return nil
}

// QueueNames lists every queue registered through InitQueue.
func (c *Client) QueueNames(ctx context.Context) ([]string, error) {
	return c.Rdb.SMembers(ctx, queueSetKey).Result()
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}

func nowMs() float64 { return float64(time.Now().UnixMilli()) }
