package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/ports"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

var _ ports.Transport = (*HTTP)(nil)

// HTTP posts compiled messages to provider endpoints. Each endpoint gets its
// own circuit breaker so one failing provider cannot burn worker time for
// the rest.
type HTTP struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{
		client:   &http.Client{Timeout: timeout},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (t *HTTP) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("endpoint", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("transport circuit state changed")
		},
	})
	t.breakers[endpoint] = cb
	return cb
}

func (t *HTTP) Send(ctx context.Context, endpoint string, credentials string, msg domain.Message) error {
	cb := t.breakerFor(endpoint)

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, t.post(ctx, endpoint, credentials, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.TransientError{Err: err}
	}
	return err
}

func (t *HTTP) post(ctx context.Context, endpoint string, credentials string, msg domain.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &domain.PermanentError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &domain.PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if credentials != "" {
		req.Header.Set("Authorization", "Bearer "+credentials)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return classifyNetErr(err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.TransientError{Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return &domain.TransientError{Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.TransientError{Err: err}
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return &domain.TransientError{Err: fmt.Errorf("provider returned HTTP %d", code)}
	default:
		// 4xx means the request itself is bad: credentials, payload, route.
		return &domain.PermanentError{Err: fmt.Errorf("provider returned HTTP %d", code)}
	}
}
