package providers

import (
	"context"
	"time"

	"github.com/hivemindctl/hivemind/internal/backoff"
)

// BaseProvider holds shared retry configuration for LLM providers, backed by
// internal/backoff so every provider computes delays the same way the cycle
// handler does rather than each hand-rolling its own exponential math.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.BackoffPolicy
}

// NewBaseProvider creates a base provider with sane defaults. retryDelay sets
// the policy's initial backoff; delays double each attempt up to 30s.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy: backoff.BackoffPolicy{
			InitialMs: float64(retryDelay.Milliseconds()),
			MaxMs:     30000,
			Factor:    2,
			Jitter:    0.1,
		},
	}
}

// RetryWithBackoff executes op, retrying with the provider's backoff policy
// as long as isRetryable keeps returning true, up to maxRetries attempts.
func (b *BaseProvider) RetryWithBackoff(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.ComputeBackoff(b.policy, attempt)):
		}
	}
	return lastErr
}
