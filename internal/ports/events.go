package ports

import "time"

type EventKind string

const (
	EventActive    EventKind = "active"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventStalled   EventKind = "stalled"
)

// JobEvent is emitted by the worker runtime on each job state transition.
type JobEvent struct {
	Kind      EventKind
	QueueName string
	JobID     string
	JobType   string
	Latency   time.Duration
	Err       error
}

// EventBus fans queue events out to subscribers. Subscriptions are opened at
// queue creation and closed during shutdown, before queues are torn down.
type EventBus interface {
	Publish(ev JobEvent)
	Subscribe() (<-chan JobEvent, func())
	Close()
}
