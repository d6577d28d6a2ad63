// Package memory holds in-process implementations of the delivery ports,
// used by tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/ports"

	"github.com/google/uuid"
)

var (
	_ ports.ProviderDirectory = (*Directory)(nil)
	_ ports.Queue             = (*Queue)(nil)
	_ ports.RateLimiter       = (*RateLimiter)(nil)
	_ ports.Transport         = (*Transport)(nil)
	_ ports.AlertSink         = (*AlertRecorder)(nil)
	_ ports.PreferenceStore   = (*PreferenceStore)(nil)
)

type Directory struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
}

func NewDirectory(providers ...domain.Provider) *Directory {
	d := &Directory{providers: make(map[string]domain.Provider)}
	for _, p := range providers {
		d.providers[p.ID] = p
	}
	return d
}

func (d *Directory) FindProvider(_ context.Context, tenantID, providerType, integrationType string) (*domain.Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var first *domain.Provider
	for _, p := range d.providers {
		if p.TenantID != tenantID || p.ProviderType != providerType || p.IntegrationType != integrationType {
			continue
		}
		cp := p
		if cp.IsActive {
			return &cp, nil
		}
		if first == nil {
			first = &cp
		}
	}
	return first, nil
}

func (d *Directory) FindProviderByID(_ context.Context, id string) (*domain.Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.providers[id]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (d *Directory) UpdateProviderHealth(_ context.Context, id string, score float64, isActive bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.providers[id]
	if !ok {
		return nil
	}
	p.HealthScore = score
	p.IsActive = isActive
	d.providers[id] = p
	return nil
}

// Queue is a minimal in-memory ports.Queue. Delayed jobs are held until
// their run time passes; Pop drains in FIFO order.
type Queue struct {
	mu      sync.Mutex
	ready   []domain.Job
	delayed []delayedJob
	state   map[string]domain.Job
	failNow bool
}

type delayedJob struct {
	job   domain.Job
	runAt time.Time
}

func NewQueue() *Queue {
	return &Queue{state: make(map[string]domain.Job)}
}

// FailEnqueues makes subsequent enqueues error, for testing the swallowed
// enqueue-failure path.
func (q *Queue) FailEnqueues(fail bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failNow = fail
}

func (q *Queue) Enqueue(_ context.Context, j domain.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNow {
		return "", context.DeadlineExceeded
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.Status = domain.StatusEnqueued
	q.ready = append(q.ready, j)
	q.state[j.ID] = j
	return j.ID, nil
}

func (q *Queue) EnqueueDelayed(_ context.Context, j domain.Job, runAt time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNow {
		return "", context.DeadlineExceeded
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.Status = domain.StatusDelayed
	j.NextRunAt = runAt
	q.delayed = append(q.delayed, delayedJob{job: j, runAt: runAt})
	q.state[j.ID] = j
	return j.ID, nil
}

func (q *Queue) Claim(_ context.Context, queueName, _ string, _ time.Duration) (*domain.Job, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDueLocked(time.Now())
	for i, j := range q.ready {
		if j.QueueName == queueName {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			cp := j
			return &cp, j.ID, nil
		}
	}
	return nil, "", nil
}

// PromoteDue moves delayed jobs whose run time has passed (relative to now)
// into the ready list. Tests use this instead of a ticker.
func (q *Queue) PromoteDue(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDueLocked(now)
}

func (q *Queue) promoteDueLocked(now time.Time) {
	var remaining []delayedJob
	for _, d := range q.delayed {
		if !d.runAt.After(now) {
			d.job.Status = domain.StatusEnqueued
			q.ready = append(q.ready, d.job)
		} else {
			remaining = append(remaining, d)
		}
	}
	q.delayed = remaining
}

func (q *Queue) Ack(_ context.Context, _, _ string) error { return nil }

func (q *Queue) SaveState(_ context.Context, j domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state[j.ID] = j
	return nil
}

func (q *Queue) Get(_ context.Context, id string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.state[id]; ok {
		cp := j
		return &cp, nil
	}
	return nil, nil
}

// Ready returns a snapshot of immediately claimable jobs.
func (q *Queue) Ready() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Job, len(q.ready))
	copy(out, q.ready)
	return out
}

// Delayed returns a snapshot of scheduled jobs with their run times.
func (q *Queue) Delayed() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Job, 0, len(q.delayed))
	for _, d := range q.delayed {
		out = append(out, d.job)
	}
	return out
}

// RateLimiter is a fixed-window counter sharing the redis limiter's
// semantics: the expiry attaches to the first increment of a window.
type RateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	counts  map[string]int
	expires map[string]time.Time
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		now:     now,
		counts:  make(map[string]int),
		expires: make(map[string]time.Time),
	}
}

func (r *RateLimiter) Allow(_ context.Context, providerID string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if exp, ok := r.expires[providerID]; ok && !now.Before(exp) {
		delete(r.counts, providerID)
		delete(r.expires, providerID)
	}
	if _, ok := r.expires[providerID]; !ok {
		r.expires[providerID] = now.Add(window)
	}
	r.counts[providerID]++
	return r.counts[providerID] <= limit, nil
}

// Transport records sends and fails according to a script of per-endpoint
// errors, consumed one per call.
type Transport struct {
	mu      sync.Mutex
	scripts map[string][]error
	Sent    []SentMessage
}

type SentMessage struct {
	Endpoint string
	Message  domain.Message
}

func NewTransport() *Transport {
	return &Transport{scripts: make(map[string][]error)}
}

// Script queues errs as the outcomes of the next sends to endpoint. A nil
// entry means success.
func (t *Transport) Script(endpoint string, errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[endpoint] = append(t.scripts[endpoint], errs...)
}

func (t *Transport) Send(_ context.Context, endpoint string, _ string, msg domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.scripts[endpoint]; len(s) > 0 {
		err := s[0]
		t.scripts[endpoint] = s[1:]
		if err != nil {
			return err
		}
	}
	t.Sent = append(t.Sent, SentMessage{Endpoint: endpoint, Message: msg})
	return nil
}

// AlertRecorder captures posted alerts.
type AlertRecorder struct {
	mu     sync.Mutex
	Alerts []RecordedAlert
}

type RecordedAlert struct {
	Message string
	Fields  map[string]string
}

func (a *AlertRecorder) Post(_ context.Context, message string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Alerts = append(a.Alerts, RecordedAlert{Message: message, Fields: fields})
}

func (a *AlertRecorder) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Alerts)
}

// PreferenceStore serves fixed preferences and templates.
type PreferenceStore struct {
	Prefs     map[string]domain.Preferences // keyed by userID
	Templates map[string]domain.Template    // keyed by messageType
}

func (s *PreferenceStore) GetPreferences(_ context.Context, userID, tenantID, messageType string) (*domain.Preferences, error) {
	if p, ok := s.Prefs[userID]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (s *PreferenceStore) GetTemplate(_ context.Context, messageType string, _ []string) (*domain.Template, error) {
	if t, ok := s.Templates[messageType]; ok {
		cp := t
		return &cp, nil
	}
	return &domain.Template{MessageType: messageType, Body: "{{body}}"}, nil
}
