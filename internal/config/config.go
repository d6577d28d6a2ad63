package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"log"
)

type Config struct {
	Redis  Redis
	Retry  Retry
	Health Health
	Direct Direct
	Alert  Alert
	Worker Worker
}

type Redis struct {
	Addr          string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB" envDefault:"0"`
	Group         string `env:"REDIS_GROUP" envDefault:"notifyq"`
	StreamPrefix  string `env:"REDIS_STREAM_PREFIX" envDefault:"nq:queue:"`
	ScheduledZSet string `env:"REDIS_SCHEDULED_ZSET" envDefault:"nq:scheduled"`
	DLQStreamKey  string `env:"REDIS_DLQ_STREAM" envDefault:"nq:dlq"`
}

// Retry holds the global defaults applied when a job type has no explicit
// policy: 3 attempts, exponential backoff, 1s base.
type Retry struct {
	DefaultMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	DefaultBackoff     string        `env:"RETRY_BACKOFF" envDefault:"exponential"`
	DefaultBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	PriorityThreshold  int           `env:"RETRY_PRIORITY_THRESHOLD" envDefault:"5"`
}

// Health controls the provider health tracker. MinScore is the read-time
// "healthy enough to be primary" gate; deactivation happens at 0.5
// regardless, so a provider can be active yet still passed over for its
// fallback.
type Health struct {
	MinScore         float64 `env:"HEALTH_MIN_SCORE" envDefault:"0.8"`
	FailureDecrement float64 `env:"HEALTH_FAILURE_DECREMENT" envDefault:"0.1"`
	SuccessIncrement float64 `env:"HEALTH_SUCCESS_INCREMENT" envDefault:"0.05"`
}

// Direct configures the synchronous send path, which runs its own linear
// backoff loop independent of the queued-job retry policy. MaxRetries is
// always at least 1; Load clamps lower values.
type Direct struct {
	MaxRetries int           `env:"DIRECT_MAX_RETRIES" envDefault:"3"`
	BaseDelay  time.Duration `env:"DIRECT_BASE_DELAY" envDefault:"500ms"`
}

type Alert struct {
	WebhookURL string        `env:"ALERT_WEBHOOK_URL"`
	RatePerSec float64       `env:"ALERT_RATE_PER_SEC" envDefault:"1"`
	Burst      int           `env:"ALERT_BURST" envDefault:"5"`
	Timeout    time.Duration `env:"ALERT_TIMEOUT" envDefault:"5s"`
}

type Worker struct {
	Concurrency     int           `env:"WORKER_CONCURRENCY" envDefault:"3"`
	ClaimBlock      time.Duration `env:"WORKER_CLAIM_BLOCK" envDefault:"5s"`
	StallTimeout    time.Duration `env:"WORKER_STALL_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func Load() *Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}

	if c.Direct.MaxRetries < 1 {
		c.Direct.MaxRetries = 1
	}

	return &c
}
