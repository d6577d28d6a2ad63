package domain

import "time"

type JobStatus string

const (
	StatusEnqueued  JobStatus = "enqueued"
	StatusDelayed   JobStatus = "delayed"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusDead      JobStatus = "dead"
)

// Job is one unit of delivery work. It is owned by the queue runtime while
// in flight; ownership moves to the dead-letter store on exhaustion.
type Job struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Payload      map[string]string `json:"payload"`
	QueueName    string            `json:"queue_name"`
	AttemptsMade int               `json:"attempts_made"`
	Priority     int               `json:"priority"`
	Status       JobStatus         `json:"status"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	NextRunAt    time.Time         `json:"next_run_at"`
}

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// RetryPolicy is immutable per-job-type configuration. MaxAttempts >= 1.
type RetryPolicy struct {
	JobType     string
	MaxAttempts int
	BackoffType BackoffType
	BaseDelay   time.Duration
	Critical    bool
}

// DeadLetterEntry holds a job that exhausted its retry policy. Entries are
// kept until replayed or purged by an operator.
type DeadLetterEntry struct {
	OriginalJobID     string    `json:"original_job_id"`
	OriginalQueueName string    `json:"original_queue_name"`
	Payload           map[string]string `json:"payload"`
	JobType           string    `json:"job_type"`
	Priority          int       `json:"priority"`
	FailureReason     string    `json:"failure_reason"`
	MovedAt           time.Time `json:"moved_at"`
}

// DeadLetterStats counts jobs by state for operational dashboards.
type DeadLetterStats struct {
	Failed  int64 `json:"failed"`
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
}

// DeliveryOutcome is produced per delivery attempt and consumed by the
// metrics collector and the health tracker. Never persisted.
type DeliveryOutcome struct {
	JobID      string
	ProviderID string
	Succeeded  bool
	Latency    time.Duration
	ErrorClass string
}
