package memory

import (
	"context"
	"sync"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/ports"
)

var _ ports.DeadLetterStore = (*DeadLetter)(nil)

// DeadLetter is the in-memory dead-letter store, replaying into a Queue.
type DeadLetter struct {
	mu      sync.Mutex
	queue   *Queue
	entries []domain.DeadLetterEntry
	seen    map[string]bool
}

func NewDeadLetter(queue *Queue) *DeadLetter {
	return &DeadLetter{queue: queue, seen: make(map[string]bool)}
}

func (d *DeadLetter) Move(_ context.Context, j domain.Job, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[j.ID] {
		return nil
	}
	d.seen[j.ID] = true
	d.entries = append(d.entries, domain.DeadLetterEntry{
		OriginalJobID:     j.ID,
		OriginalQueueName: j.QueueName,
		Payload:           j.Payload,
		JobType:           j.Type,
		Priority:          j.Priority,
		FailureReason:     reason,
		MovedAt:           time.Now(),
	})
	return nil
}

func (d *DeadLetter) ReplayAll(ctx context.Context) (int, error) {
	d.mu.Lock()
	entries := d.entries
	d.entries = nil
	for _, e := range entries {
		delete(d.seen, e.OriginalJobID)
	}
	d.mu.Unlock()

	count := 0
	for _, e := range entries {
		j := domain.Job{
			ID:        e.OriginalJobID,
			Type:      e.JobType,
			QueueName: e.OriginalQueueName,
			Payload:   e.Payload,
			Priority:  e.Priority,
		}
		if _, err := d.queue.Enqueue(ctx, j); err != nil {
			// Keep unreplayable entries.
			d.mu.Lock()
			d.entries = append(d.entries, e)
			d.seen[e.OriginalJobID] = true
			d.mu.Unlock()
			continue
		}
		count++
	}
	return count, nil
}

func (d *DeadLetter) Stats(_ context.Context) (domain.DeadLetterStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.DeadLetterStats{
		Failed:  int64(len(d.entries)),
		Waiting: int64(len(d.queue.Ready())),
		Delayed: int64(len(d.queue.Delayed())),
	}, nil
}

// Entries returns a snapshot for assertions.
func (d *DeadLetter) Entries() []domain.DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.DeadLetterEntry, len(d.entries))
	copy(out, d.entries)
	return out
}
