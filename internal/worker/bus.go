package worker

import (
	"sync"

	"notifyq/internal/ports"

	"github.com/rs/zerolog/log"
)

var _ ports.EventBus = (*Bus)(nil)

// Bus fans job events out to subscribers over buffered channels. Subscription
// lifecycle is explicit: opened when a consumer attaches, closed by the
// cancel func or by Close during shutdown.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan ports.JobEvent
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan ports.JobEvent)}
}

func (b *Bus) Publish(ev ports.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; dropping beats blocking the worker.
			log.Warn().Str("queue", ev.QueueName).Str("kind", string(ev.Kind)).Msg("event dropped, subscriber lagging")
		}
	}
}

func (b *Bus) Subscribe() (<-chan ports.JobEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan ports.JobEvent, 256)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
