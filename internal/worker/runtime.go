package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notifyq/internal/config"
	"notifyq/internal/domain"
	"notifyq/internal/infra/redisq"
	"notifyq/internal/metrics"
	"notifyq/internal/ports"
	"notifyq/internal/usecase"
	"notifyq/pkg/backoff"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Pause bounds between failed claim attempts, jittered so a consumer pool
// does not hammer a recovering broker in lockstep.
const (
	claimRetryBase = 100 * time.Millisecond
	claimRetryMax  = 5 * time.Second
)

// Handler processes one leased job. Handlers must be safe under concurrent
// invocation for the same queue; a job itself is leased to one worker at a
// time.
type Handler func(ctx context.Context, j domain.Job) error

// Runtime owns queue lifecycle: it creates and tracks queues, runs consumer
// pools, attaches monitoring at creation, delegates worker failures to the
// orchestrator, and shuts everything down in order (monitoring first, then
// workers, then queues, then the shared connection).
type Runtime struct {
	cfg       config.Worker
	client    *redisq.Client
	bus       *Bus
	collector *metrics.Collector
	orch      *usecase.Orchestrator
	handler   Handler

	mu     sync.Mutex
	queues map[string]struct{}

	// Claiming and processing live on separate contexts so shutdown can stop
	// claiming immediately while in-flight jobs keep running to the deadline.
	claimCtx    context.Context
	cancelClaim context.CancelFunc
	jobCtx      context.Context
	cancelJobs  context.CancelFunc
	wg          sync.WaitGroup
}

func NewRuntime(cfg config.Worker, client *redisq.Client, collector *metrics.Collector, orch *usecase.Orchestrator, handler Handler) *Runtime {
	claimCtx, cancelClaim := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:         cfg,
		client:      client,
		bus:         NewBus(),
		collector:   collector,
		orch:        orch,
		handler:     handler,
		queues:      make(map[string]struct{}),
		claimCtx:    claimCtx,
		cancelClaim: cancelClaim,
		jobCtx:      jobCtx,
		cancelJobs:  cancelJobs,
	}
	collector.Attach(r.bus)
	return r
}

// InitializeQueue creates the queue's stream and group, then starts its
// consumer pool and stalled-entry sweep. Idempotent per queue name.
func (r *Runtime) InitializeQueue(ctx context.Context, name, tenantID, featureID string) error {
	r.mu.Lock()
	if _, ok := r.queues[name]; ok {
		r.mu.Unlock()
		return nil
	}
	r.queues[name] = struct{}{}
	r.mu.Unlock()

	if err := r.client.InitQueue(ctx, name); err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Str("queue", name).
		Str("tenant_id", tenantID).
		Str("feature_id", featureID).
		Int("concurrency", r.cfg.Concurrency).
		Msg("queue initialized")

	for i := 0; i < r.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-consumer-%d", name, i)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.consume(name, consumer)
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweepStalled(name)
	}()

	return nil
}

func (r *Runtime) consume(queueName, consumer string) {
	failures := 0
	for {
		select {
		case <-r.claimCtx.Done():
			return
		default:
		}

		j, leaseID, err := r.client.Claim(r.claimCtx, queueName, consumer, r.cfg.ClaimBlock)
		if err != nil {
			if r.claimCtx.Err() != nil {
				return
			}
			failures++
			pause := backoff.ExponentialJitter(claimRetryBase, claimRetryMax, failures)
			log.Err(err).Str("queue", queueName).Dur("pause", pause).Msg("claim failed")
			select {
			case <-time.After(pause):
			case <-r.claimCtx.Done():
				return
			}
			continue
		}
		failures = 0
		if j == nil {
			continue
		}

		r.process(queueName, leaseID, *j)
	}
}

func (r *Runtime) process(queueName, leaseID string, j domain.Job) {
	ctx := r.jobCtx
	start := time.Now()

	j.Status = domain.StatusActive
	_ = r.client.SaveState(ctx, j)
	r.bus.Publish(ports.JobEvent{Kind: ports.EventActive, QueueName: queueName, JobID: j.ID, JobType: j.Type})

	err := r.handler(ctx, j)
	j.AttemptsMade++

	if err == nil {
		_ = r.client.Ack(ctx, queueName, leaseID)
		r.bus.Publish(ports.JobEvent{
			Kind:      ports.EventCompleted,
			QueueName: queueName,
			JobID:     j.ID,
			JobType:   j.Type,
			Latency:   time.Since(start),
		})
		// Successful jobs are done with; drop their state.
		_ = r.client.DropState(ctx, j.ID)
		return
	}

	j.Status = domain.StatusFailed
	_ = r.client.SaveState(ctx, j)
	r.bus.Publish(ports.JobEvent{
		Kind:      ports.EventFailed,
		QueueName: queueName,
		JobID:     j.ID,
		JobType:   j.Type,
		Latency:   time.Since(start),
		Err:       err,
	})

	// The lease is released before the orchestrator decides; a retry is a
	// fresh delayed enqueue, not a redelivery of this entry.
	_ = r.client.Ack(ctx, queueName, leaseID)
	r.orch.Handle(ctx, j, err)
}

// sweepStalled re-leases entries whose consumer went away. The stalled event
// is recorded but takes no retry decision; the job simply runs again.
func (r *Runtime) sweepStalled(queueName string) {
	ticker := time.NewTicker(r.cfg.StallTimeout)
	defer ticker.Stop()

	consumer := queueName + "-sweeper"
	for {
		select {
		case <-r.claimCtx.Done():
			return
		case <-ticker.C:
		}

		msgs, _, err := r.client.Rdb.XAutoClaim(r.claimCtx, &redis.XAutoClaimArgs{
			Stream:   r.client.StreamKey(queueName),
			Group:    r.client.Cfg.Group,
			Consumer: consumer,
			MinIdle:  r.cfg.StallTimeout,
			Start:    "0-0",
			Count:    16,
		}).Result()
		if err != nil {
			if r.claimCtx.Err() != nil {
				return
			}
			log.Err(err).Str("queue", queueName).Msg("stalled sweep failed")
			continue
		}

		for _, msg := range msgs {
			j, err := redisq.DecodeJob(msg.Values["job"])
			if err != nil {
				log.Err(err).Str("queue", queueName).Str("lease_id", msg.ID).Msg("undecodable stalled entry, acking")
				_ = r.client.Ack(r.claimCtx, queueName, msg.ID)
				continue
			}
			log.Warn().Str("queue", queueName).Str("job_id", j.ID).Msg("stalled job re-leased")
			r.bus.Publish(ports.JobEvent{Kind: ports.EventStalled, QueueName: queueName, JobID: j.ID, JobType: j.Type})
			r.process(queueName, msg.ID, *j)
		}
	}
}

// Shutdown drains monitoring first, then stops workers, then queues, then
// releases the shared connection. The deadline bounds the worker drain.
func (r *Runtime) Shutdown(ctx context.Context) error {
	log.Ctx(ctx).Info().Msg("worker runtime shutting down")

	// 1. Monitoring: no metrics after the collector is gone.
	r.collector.Close()

	// 2. Workers: stop claiming immediately, but leave in-flight jobs their
	// own context so they drain cleanly; only the deadline cancels them.
	r.cancelClaim()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Ctx(ctx).Warn().Msg("shutdown deadline reached, forcing closure")
		r.cancelJobs()
		<-done
	}
	r.cancelJobs()

	// 3. Queues: event fan-out closes with them.
	r.bus.Close()

	// 4. Shared connection.
	return r.client.Close()
}
