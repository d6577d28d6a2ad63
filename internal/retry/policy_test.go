package retry

import (
	"errors"
	"testing"
	"time"

	"notifyq/internal/config"
	"notifyq/internal/domain"

	"github.com/stretchr/testify/assert"
)

func testConfig() config.Retry {
	return config.Retry{
		DefaultMaxAttempts: 3,
		DefaultBackoff:     "exponential",
		DefaultBaseDelay:   time.Second,
		PriorityThreshold:  5,
	}
}

func newTestEngine() *Engine {
	return NewEngine(testConfig(), []domain.RetryPolicy{
		{JobType: "critical", Critical: true, MaxAttempts: 5},
		{JobType: "fixed-type", BackoffType: domain.BackoffFixed, BaseDelay: 250 * time.Millisecond},
	})
}

func transientErr() error {
	return &domain.TransientError{Err: errors.New("connection reset")}
}

func TestShouldRetry_TransientCritical(t *testing.T) {
	e := newTestEngine()

	j := domain.Job{Type: "critical", AttemptsMade: 1}
	assert.True(t, e.ShouldRetry(j, transientErr()))
}

func TestShouldRetry_TransientNonCritical(t *testing.T) {
	e := newTestEngine()

	// Transient error alone is not enough: the type must be critical or the
	// priority rule must fire.
	j := domain.Job{Type: "default", AttemptsMade: 1, Priority: 3}
	assert.False(t, e.ShouldRetry(j, transientErr()))
}

func TestShouldRetry_HighPriority(t *testing.T) {
	e := newTestEngine()

	j := domain.Job{Type: "default", AttemptsMade: 1, Priority: 6}
	assert.True(t, e.ShouldRetry(j, errors.New("some handler failure")))
}

func TestShouldRetry_LowPriorityNonNetwork(t *testing.T) {
	e := newTestEngine()

	j := domain.Job{Type: "default", AttemptsMade: 1, Priority: 3}
	assert.False(t, e.ShouldRetry(j, errors.New("handler failure")))
}

func TestShouldRetry_ExhaustedAttempts(t *testing.T) {
	e := newTestEngine()

	// Exhaustion vetoes both rules regardless of error class or priority.
	j := domain.Job{Type: "critical", AttemptsMade: 5, Priority: 10}
	assert.False(t, e.ShouldRetry(j, transientErr()))

	j = domain.Job{Type: "default", AttemptsMade: 3, Priority: 10}
	assert.False(t, e.ShouldRetry(j, transientErr()))
}

func TestShouldRetry_PermanentError(t *testing.T) {
	e := newTestEngine()

	j := domain.Job{Type: "critical", AttemptsMade: 1, Priority: 10}
	err := &domain.PermanentError{Err: errors.New("invalid credentials")}
	assert.False(t, e.ShouldRetry(j, err))
}

func TestBackoffDelay_Exponential(t *testing.T) {
	e := newTestEngine()

	for attempts, want := range map[int]time.Duration{
		0: 1000 * time.Millisecond,
		1: 2000 * time.Millisecond,
		2: 4000 * time.Millisecond,
	} {
		assert.Equal(t, want, e.BackoffDelay("default", attempts), "attemptsMade=%d", attempts)
	}
}

func TestBackoffDelay_Fixed(t *testing.T) {
	e := newTestEngine()

	for attempts := 0; attempts < 4; attempts++ {
		assert.Equal(t, 250*time.Millisecond, e.BackoffDelay("fixed-type", attempts))
	}
}

func TestPolicy_Defaults(t *testing.T) {
	e := newTestEngine()

	p := e.Policy("unconfigured")
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, domain.BackoffExponential, p.BackoffType)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.False(t, p.Critical)
}

func TestPolicy_ZeroFieldsInheritDefaults(t *testing.T) {
	e := NewEngine(testConfig(), []domain.RetryPolicy{
		{JobType: "partial", Critical: true},
	})

	p := e.Policy("partial")
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, domain.BackoffExponential, p.BackoffType)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.True(t, p.Critical)
}
