package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"notifyq/internal/config"
	"notifyq/internal/domain"
	"notifyq/internal/health"
	"notifyq/internal/infra/memory"
	"notifyq/internal/infra/secrets"
	"notifyq/internal/metrics"
	"notifyq/internal/selector"
	"notifyq/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *memory.Queue, *memory.DeadLetter) {
	t.Helper()

	queue := memory.NewQueue()
	dlq := memory.NewDeadLetter(queue)
	dir := memory.NewDirectory()
	tracker := health.NewTracker(dir, config.Health{MinScore: 0.8, FailureDecrement: 0.1, SuccessIncrement: 0.05})

	dispatcher := &usecase.Dispatcher{
		Queue:     queue,
		Prefs:     &memory.PreferenceStore{Prefs: map[string]domain.Preferences{"u1": {UserID: "u1", TenantID: "t1", Enabled: true, ChannelIDs: []string{"email"}}}},
		Directory: dir,
		Limiter:   memory.NewRateLimiter(nil),
		Secrets:   secrets.Plain{},
		Transport: memory.NewTransport(),
		Selector:  selector.New(dir, tracker),
		Tracker:   tracker,
		Alerts:    &memory.AlertRecorder{},
		Metrics:   metrics.NewCollector(prometheus.NewRegistry()),
		Direct:    config.Direct{MaxRetries: 1, BaseDelay: time.Millisecond},
	}

	return NewServer(dispatcher, dlq), queue, dlq
}

func TestPostNotifications_Accepted(t *testing.T) {
	s, queue, _ := newTestServer(t)

	body := `{"user_id":"u1","message_type":"welcome","data":{"tenant_id":"t1","body":"hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, queue.Ready(), 1)
}

func TestPostNotifications_BadJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostNotificationsDirect_NoProviderIsBadGateway(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"user_id":"u1","tenant_id":"t1","channel":"push","body":"now"}`
	req := httptest.NewRequest(http.MethodPost, "/notifications/direct", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDLQEndpoints(t *testing.T) {
	s, queue, dlq := newTestServer(t)

	j := domain.Job{ID: "job-1", Type: "welcome", QueueName: "email"}
	require.NoError(t, dlq.Move(context.Background(), j, "exhausted"))

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dlq/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"failed":1,"waiting":0,"delayed":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dlq/replay", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"replayed":1}`, rec.Body.String())
	assert.Len(t, queue.Ready(), 1)
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
