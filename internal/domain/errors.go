package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProviderAvailable means neither the primary nor its fallback was
	// usable for a (tenant, type, integration) tuple. Surfaced to the caller,
	// never retried automatically.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrRateLimitExceeded means the provider's window is exhausted; the
	// caller must back off or queue.
	ErrRateLimitExceeded = errors.New("provider rate limit exceeded")
)

// TransientError wraps network/timeout style provider failures that are
// retryable under policy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient provider error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps provider failures that must never be retried, such as
// rejected credentials.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent provider error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// QueueInitError is fatal at startup for the named queue.
type QueueInitError struct {
	QueueName string
	Err       error
}

func (e *QueueInitError) Error() string {
	return fmt.Sprintf("queue %q initialization failed: %v", e.QueueName, e.Err)
}
func (e *QueueInitError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient-network class failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err must never be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ErrorClass returns a stable label for metrics and outcome records.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTransient(err):
		return "transient"
	case IsPermanent(err):
		return "permanent"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, ErrNoProviderAvailable):
		return "no_provider"
	default:
		return "unknown"
	}
}
