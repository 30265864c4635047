package service

import (
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
)

// Decision is the retry controller's verdict for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy decides, given a failed job and its error, whether the job is
// rescheduled or terminally failed. Decide is pure: it mutates nothing.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Classify overrides the default transient/permanent classification.
	// Nil uses the domain error taxonomy, treating unclassified errors as
	// transient, since the upstream's failure modes are not fully known.
	Classify func(err error) bool
}

// DefaultRetryPolicy returns the standard exponential backoff policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		BaseDelay: 2 * time.Second,
		MaxDelay:  5 * time.Minute,
	}
}

// Decide classifies the error and applies the retry budget. Permanent errors
// always fail; transient errors retry while retry_count < max_retries, with
// exponential delay base*2^retry_count capped at MaxDelay.
func (p *RetryPolicy) Decide(job *domain.AnalysisJob, err error) Decision {
	if !p.transient(err) {
		return Decision{Retry: false}
	}
	if job.RetryCount >= job.MaxRetries {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: p.backoff(job.RetryCount)}
}

func (p *RetryPolicy) transient(err error) bool {
	if p.Classify != nil {
		return p.Classify(err)
	}
	if domain.IsPermanent(err) {
		return false
	}
	return true
}

func (p *RetryPolicy) backoff(retryCount int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Minute
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
