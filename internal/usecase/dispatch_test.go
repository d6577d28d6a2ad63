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
	"notifyq/internal/selector"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchFixture struct {
	queue     *memory.Queue
	transport *memory.Transport
	alerts    *memory.AlertRecorder
	dispatch  *Dispatcher
}

func newDispatchFixture(t *testing.T, providers ...domain.Provider) *dispatchFixture {
	t.Helper()

	queue := memory.NewQueue()
	transport := memory.NewTransport()
	alerts := &memory.AlertRecorder{}
	dir := memory.NewDirectory(providers...)
	tracker := health.NewTracker(dir, config.Health{MinScore: 0.8, FailureDecrement: 0.1, SuccessIncrement: 0.05})

	prefs := &memory.PreferenceStore{
		Prefs: map[string]domain.Preferences{
			"u1": {UserID: "u1", TenantID: "t1", Enabled: true, ChannelIDs: []string{"email", "sms"}},
			"u2": {UserID: "u2", TenantID: "t1", Enabled: false, ChannelIDs: []string{"email"}},
		},
		Templates: map[string]domain.Template{
			"welcome": {MessageType: "welcome", Subject: "Welcome {{name}}", Body: "Hello {{name}}, glad you joined."},
		},
	}

	return &dispatchFixture{
		queue:     queue,
		transport: transport,
		alerts:    alerts,
		dispatch: &Dispatcher{
			Queue:     queue,
			Prefs:     prefs,
			Directory: dir,
			Limiter:   memory.NewRateLimiter(nil),
			Secrets:   secrets.Plain{},
			Transport: transport,
			Selector:  selector.New(dir, tracker),
			Tracker:   tracker,
			Alerts:    alerts,
			Metrics:   metrics.NewCollector(prometheus.NewRegistry()),
			Direct:    config.Direct{MaxRetries: 3, BaseDelay: time.Millisecond},
		},
	}
}

func directProvider(id string, score float64, fallback string) domain.Provider {
	return domain.Provider{
		ID:                 id,
		TenantID:           "t1",
		ProviderType:       "push",
		APIEndpoint:        "https://" + id + ".example.com/push",
		IsActive:           score >= 0.5,
		HealthScore:        score,
		RateLimit:          100,
		RateResetInterval:  60,
		FallbackProviderID: fallback,
	}
}

// backupProvider registers under a distinct integration type so the tuple
// lookup can never pick it as primary.
func backupProvider(id string, score float64) domain.Provider {
	p := directProvider(id, score, "")
	p.IntegrationType = "backup"
	return p
}

func TestSendNotification_EnqueuesPerChannel(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	err := f.dispatch.SendNotification(ctx, "u1", "welcome", map[string]string{
		"tenant_id": "t1",
		"name":      "Ada",
		"priority":  "7",
	})
	require.NoError(t, err)

	ready := f.queue.Ready()
	require.Len(t, ready, 2)

	byQueue := map[string]domain.Job{}
	for _, j := range ready {
		byQueue[j.QueueName] = j
	}
	require.Contains(t, byQueue, "email")
	require.Contains(t, byQueue, "sms")

	j := byQueue["email"]
	assert.Equal(t, "welcome", j.Type)
	assert.Equal(t, 7, j.Priority)
	assert.Equal(t, "Welcome Ada", j.Payload[KeySubject])
	assert.Equal(t, "Hello Ada, glad you joined.", j.Payload[KeyBody])
	assert.Equal(t, "u1", j.Payload[KeyUserID])
	assert.Equal(t, "email", j.Payload[KeyProviderType])
}

// nilTemplateStore answers preferences but has no template at all, the
// minimum a conforming store may return.
type nilTemplateStore struct {
	prefs domain.Preferences
}

func (s nilTemplateStore) GetPreferences(_ context.Context, _, _, _ string) (*domain.Preferences, error) {
	cp := s.prefs
	return &cp, nil
}

func (s nilTemplateStore) GetTemplate(_ context.Context, _ string, _ []string) (*domain.Template, error) {
	return nil, nil
}

func TestSendNotification_NilTemplatePassesFieldsThrough(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.dispatch.Prefs = nilTemplateStore{prefs: domain.Preferences{
		UserID: "u1", TenantID: "t1", Enabled: true, ChannelIDs: []string{"email"},
	}}

	err := f.dispatch.SendNotification(ctx, "u1", "welcome", map[string]string{
		"tenant_id": "t1",
		"subject":   "Plain subject",
		"body":      "Plain body",
	})
	require.NoError(t, err)

	ready := f.queue.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "Plain subject", ready[0].Payload[KeySubject])
	assert.Equal(t, "Plain body", ready[0].Payload[KeyBody])
}

func TestSendNotification_DisabledPreferencesEnqueueNothing(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	require.NoError(t, f.dispatch.SendNotification(ctx, "u2", "welcome", map[string]string{"tenant_id": "t1"}))
	assert.Empty(t, f.queue.Ready())
}

func TestSendNotification_EnqueueFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.queue.FailEnqueues(true)

	// Accepted-for-delivery semantics: the caller sees no error even though
	// every enqueue failed.
	err := f.dispatch.SendNotification(ctx, "u1", "welcome", map[string]string{"tenant_id": "t1"})
	assert.NoError(t, err)
	assert.Empty(t, f.queue.Ready())
}

func TestProcessNotification_SucceedsFirstAttempt(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, directProvider("push-1", 1.0, ""))

	msg := domain.Message{TenantID: "t1", Subject: "ping", Body: "now"}
	require.NoError(t, f.dispatch.ProcessNotification(ctx, "u1", msg, "push"))

	require.Len(t, f.transport.Sent, 1)
	assert.Equal(t, "u1", f.transport.Sent[0].Message.UserID)
	assert.Zero(t, f.alerts.Count())
}

func TestProcessNotification_RetriesTransientThenSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, directProvider("push-1", 1.0, ""))

	f.transport.Script("https://push-1.example.com/push",
		&domain.TransientError{Err: errors.New("timeout")},
		&domain.TransientError{Err: errors.New("timeout")},
		nil,
	)

	msg := domain.Message{TenantID: "t1", Body: "now"}
	require.NoError(t, f.dispatch.ProcessNotification(ctx, "u1", msg, "push"))
	assert.Len(t, f.transport.Sent, 1)
}

func TestProcessNotification_FallbackAfterExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t,
		directProvider("push-1", 1.0, "push-2"),
		backupProvider("push-2", 1.0),
	)

	f.transport.Script("https://push-1.example.com/push",
		&domain.TransientError{Err: errors.New("down")},
		&domain.TransientError{Err: errors.New("down")},
		&domain.TransientError{Err: errors.New("down")},
	)

	msg := domain.Message{TenantID: "t1", Body: "now"}
	require.NoError(t, f.dispatch.ProcessNotification(ctx, "u1", msg, "push"))

	require.Len(t, f.transport.Sent, 1)
	assert.Equal(t, "https://push-2.example.com/push", f.transport.Sent[0].Endpoint)
	assert.Zero(t, f.alerts.Count())
}

func TestProcessNotification_FallbackAlsoFails(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t,
		directProvider("push-1", 1.0, "push-2"),
		backupProvider("push-2", 1.0),
	)

	f.transport.Script("https://push-1.example.com/push",
		&domain.TransientError{Err: errors.New("down")},
		&domain.TransientError{Err: errors.New("down")},
		&domain.TransientError{Err: errors.New("down")},
	)
	f.transport.Script("https://push-2.example.com/push",
		&domain.TransientError{Err: errors.New("down too")},
	)

	msg := domain.Message{TenantID: "t1", Body: "now"}
	err := f.dispatch.ProcessNotification(ctx, "u1", msg, "push")
	require.Error(t, err)
	assert.Empty(t, f.transport.Sent)
	assert.Equal(t, 1, f.alerts.Count())
}

func TestProcessNotification_PermanentErrorSkipsRemainingAttempts(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, directProvider("push-1", 1.0, ""))

	f.transport.Script("https://push-1.example.com/push",
		&domain.PermanentError{Err: errors.New("bad credentials")},
	)

	msg := domain.Message{TenantID: "t1", Body: "now"}
	err := f.dispatch.ProcessNotification(ctx, "u1", msg, "push")
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
	assert.Equal(t, 1, f.alerts.Count())
}

func TestProcessNotification_NoProvider(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	msg := domain.Message{TenantID: "t1", Body: "now"}
	err := f.dispatch.ProcessNotification(ctx, "u1", msg, "push")
	assert.ErrorIs(t, err, domain.ErrNoProviderAvailable)
}

func TestProcessNotification_HonorsContextCancellation(t *testing.T) {
	f := newDispatchFixture(t, directProvider("push-1", 1.0, ""))
	f.dispatch.Direct.BaseDelay = time.Second

	f.transport.Script("https://push-1.example.com/push",
		&domain.TransientError{Err: errors.New("timeout")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := domain.Message{TenantID: "t1", Body: "now"}
	err := f.dispatch.ProcessNotification(ctx, "u1", msg, "push")
	assert.ErrorIs(t, err, context.Canceled)
}
