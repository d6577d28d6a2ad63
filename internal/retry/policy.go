package retry

import (
	"time"

	"notifyq/internal/config"
	"notifyq/internal/domain"
)

// Engine resolves retry policy per job type and decides retry eligibility.
//
// Eligibility is an OR of two independent rules; either one authorizes a
// retry, and a job satisfying neither is never retried even with attempts
// remaining:
//
//	a. the error is transient and the job type is flagged critical
//	b. the job's priority exceeds the threshold and attempts remain
//
// Exhausted attempts veto both rules, and permanent errors are never
// retried.
type Engine struct {
	cfg      config.Retry
	policies map[string]domain.RetryPolicy
}

func NewEngine(cfg config.Retry, policies []domain.RetryPolicy) *Engine {
	e := &Engine{
		cfg:      cfg,
		policies: make(map[string]domain.RetryPolicy, len(policies)),
	}
	for _, p := range policies {
		// Zero fields inherit the global defaults.
		if p.MaxAttempts < 1 {
			p.MaxAttempts = cfg.DefaultMaxAttempts
		}
		if p.BackoffType == "" {
			p.BackoffType = domain.BackoffType(cfg.DefaultBackoff)
		}
		if p.BaseDelay <= 0 {
			p.BaseDelay = cfg.DefaultBaseDelay
		}
		e.policies[p.JobType] = p
	}
	return e
}

// Policy returns the policy for jobType, or the global default when the
// type has no explicit entry.
func (e *Engine) Policy(jobType string) domain.RetryPolicy {
	if p, ok := e.policies[jobType]; ok {
		return p
	}
	return domain.RetryPolicy{
		JobType:     jobType,
		MaxAttempts: e.cfg.DefaultMaxAttempts,
		BackoffType: domain.BackoffType(e.cfg.DefaultBackoff),
		BaseDelay:   e.cfg.DefaultBaseDelay,
	}
}

func (e *Engine) MaxAttempts(jobType string) int {
	return e.Policy(jobType).MaxAttempts
}

func (e *Engine) ShouldRetry(j domain.Job, err error) bool {
	p := e.Policy(j.Type)

	if j.AttemptsMade >= p.MaxAttempts {
		return false
	}
	if domain.IsPermanent(err) {
		return false
	}

	if domain.IsTransient(err) && p.Critical {
		return true
	}
	if j.Priority > e.cfg.PriorityThreshold {
		return true
	}
	return false
}

// BackoffDelay computes the resubmission delay for the next attempt.
// Exponential doubles per attempt made; fixed returns the base delay
// unconditionally.
func (e *Engine) BackoffDelay(jobType string, attemptsMade int) time.Duration {
	p := e.Policy(jobType)
	switch p.BackoffType {
	case domain.BackoffFixed:
		return p.BaseDelay
	default:
		return p.BaseDelay * (1 << attemptsMade)
	}
}
