package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifyq/internal/config"
	"notifyq/internal/domain"
	"notifyq/internal/health"
	"notifyq/internal/infra/memory"
	"notifyq/internal/infra/secrets"
	"notifyq/internal/metrics"
	"notifyq/internal/retry"
	"notifyq/internal/selector"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	queue     *memory.Queue
	dlq       *memory.DeadLetter
	transport *memory.Transport
	alerts    *memory.AlertRecorder
	deliverer *Deliverer
	orch      *Orchestrator
}

func newFixture(t *testing.T, providers ...domain.Provider) *fixture {
	t.Helper()

	queue := memory.NewQueue()
	dlq := memory.NewDeadLetter(queue)
	transport := memory.NewTransport()
	alerts := &memory.AlertRecorder{}
	dir := memory.NewDirectory(providers...)
	tracker := health.NewTracker(dir, config.Health{MinScore: 0.8, FailureDecrement: 0.1, SuccessIncrement: 0.05})
	collector := metrics.NewCollector(prometheus.NewRegistry())

	engine := retry.NewEngine(config.Retry{
		DefaultMaxAttempts: 3,
		DefaultBackoff:     "exponential",
		DefaultBaseDelay:   time.Second,
		PriorityThreshold:  5,
	}, []domain.RetryPolicy{
		{JobType: "critical", Critical: true, MaxAttempts: 3},
	})

	return &fixture{
		queue:     queue,
		dlq:       dlq,
		transport: transport,
		alerts:    alerts,
		deliverer: &Deliverer{
			Selector:  selector.New(dir, tracker),
			Limiter:   memory.NewRateLimiter(nil),
			Secrets:   secrets.Plain{},
			Transport: transport,
			Tracker:   tracker,
			Metrics:   collector,
		},
		orch: &Orchestrator{
			Queue:  queue,
			DLQ:    dlq,
			Engine: engine,
			Alerts: alerts,
		},
	}
}

func healthyProvider() domain.Provider {
	return domain.Provider{
		ID:                "prov-1",
		TenantID:          "t1",
		ProviderType:      "email",
		IntegrationType:   "smtp",
		APIEndpoint:       "https://mail.example.com/send",
		IsActive:          true,
		HealthScore:       1.0,
		RateLimit:         100,
		RateResetInterval: 3600,
	}
}

func deliveryJob(jobType string, priority int) domain.Job {
	return domain.Job{
		ID:        "job-1",
		Type:      jobType,
		QueueName: "email",
		Priority:  priority,
		Payload: map[string]string{
			KeyUserID:          "u1",
			KeyTenantID:        "t1",
			KeySubject:         "hi",
			KeyBody:            "welcome",
			KeyProviderType:    "email",
			KeyIntegrationType: "smtp",
		},
	}
}

// A critical job hit by a transient failure on attempt 1 of 3 is resubmitted
// with an exponential delay, succeeds on attempt 2, and never reaches the
// dead-letter store.
func TestQueuedDelivery_TransientFailureThenSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, healthyProvider())

	f.transport.Script("https://mail.example.com/send",
		&domain.TransientError{Err: errors.New("connection reset")},
		nil,
	)

	j := deliveryJob("critical", 0)
	err := f.deliverer.Handle(ctx, j)
	require.Error(t, err)
	j.AttemptsMade++

	before := time.Now()
	f.orch.Handle(ctx, j, err)

	delayed := f.queue.Delayed()
	require.Len(t, delayed, 1, "job must be resubmitted, not dead-lettered")
	// Exponential, base 1s, one attempt made: 2s.
	runAt := delayed[0].NextRunAt
	assert.WithinDuration(t, before.Add(2*time.Second), runAt, 200*time.Millisecond)
	assert.Equal(t, 1, delayed[0].AttemptsMade)

	f.queue.PromoteDue(time.Now().Add(3 * time.Second))
	retried, _, err := f.queue.Claim(ctx, "email", "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, retried)

	require.NoError(t, f.deliverer.Handle(ctx, *retried))

	assert.Len(t, f.transport.Sent, 1)
	assert.Empty(t, f.dlq.Entries())
	assert.Zero(t, f.alerts.Count())
}

// A default-type, low-priority job failing with a non-network error is not
// retried: it is dead-lettered on attempt 1 and alerts exactly once.
func TestQueuedDelivery_NonRetryableDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, healthyProvider())

	f.transport.Script("https://mail.example.com/send",
		&domain.PermanentError{Err: errors.New("template rejected")},
	)

	j := deliveryJob("default", 3)
	err := f.deliverer.Handle(ctx, j)
	require.Error(t, err)
	j.AttemptsMade++

	f.orch.Handle(ctx, j, err)

	assert.Empty(t, f.queue.Delayed())
	entries := f.dlq.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "job-1", entries[0].OriginalJobID)
	assert.Equal(t, "email", entries[0].OriginalQueueName)
	assert.Equal(t, 1, f.alerts.Count())
}

func TestOrchestrator_PreservesPriorityOnResubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, healthyProvider())

	j := deliveryJob("default", 8)
	j.AttemptsMade = 1
	f.orch.Handle(ctx, j, errors.New("handler failure"))

	delayed := f.queue.Delayed()
	require.Len(t, delayed, 1)
	assert.Equal(t, 8, delayed[0].Priority)
}

func TestOrchestrator_ResubmissionFailureDeadLetters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, healthyProvider())
	f.queue.FailEnqueues(true)

	j := deliveryJob("critical", 0)
	j.AttemptsMade = 1
	f.orch.Handle(ctx, j, &domain.TransientError{Err: errors.New("timeout")})

	require.Len(t, f.dlq.Entries(), 1)
	assert.Equal(t, 1, f.alerts.Count())
}

func TestDeadLetter_MoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, healthyProvider())

	j := deliveryJob("default", 0)
	require.NoError(t, f.dlq.Move(ctx, j, "first"))
	require.NoError(t, f.dlq.Move(ctx, j, "second"))

	entries := f.dlq.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].FailureReason)
}

func TestDeadLetter_ReplayAllResubmitsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, healthyProvider())

	j1 := deliveryJob("default", 0)
	j2 := deliveryJob("default", 0)
	j2.ID = "job-2"
	require.NoError(t, f.dlq.Move(ctx, j1, "boom"))
	require.NoError(t, f.dlq.Move(ctx, j2, "boom"))

	count, err := f.dlq.ReplayAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Empty(t, f.dlq.Entries())

	ready := f.queue.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "job-1", ready[0].ID)
	assert.Equal(t, "job-2", ready[1].ID)
}

func TestDeliverer_RateLimitDenial(t *testing.T) {
	ctx := context.Background()
	p := healthyProvider()
	p.RateLimit = 1
	f := newFixture(t, p)

	j := deliveryJob("default", 0)
	require.NoError(t, f.deliverer.Handle(ctx, j))

	err := f.deliverer.Handle(ctx, j)
	assert.ErrorIs(t, err, domain.ErrRateLimitExceeded)
	// The provider did not fail; its health must be untouched.
	assert.Len(t, f.transport.Sent, 1)
}
