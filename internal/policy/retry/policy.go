// Package retry provides the jittered exponential backoff used for outbound
// calls to the image host.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// ExponentialPolicy implements ingest.RetryPolicy with jittered backoff.
type ExponentialPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Option customizes an ExponentialPolicy.
type Option func(*ExponentialPolicy)

// WithMaxAttempts caps the number of retries.
func WithMaxAttempts(n int) Option {
	return func(p *ExponentialPolicy) { p.maxAttempts = n }
}

// WithDelays overrides the base and ceiling delays.
func WithDelays(base, maxDelay time.Duration) Option {
	return func(p *ExponentialPolicy) {
		p.baseDelay = base
		p.maxDelay = maxDelay
	}
}

// NewExponentialPolicy builds a policy. The defaults allow a single retry, which
// is what the image host upload needs.
func NewExponentialPolicy(opts ...Option) *ExponentialPolicy {
	p := &ExponentialPolicy{
		maxAttempts: 1,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ShouldRetry retries transient network failures only. attempt counts the
// retries already made.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
