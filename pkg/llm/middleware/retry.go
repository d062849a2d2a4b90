// Package middleware holds the decorators every model client is wrapped
// with: per-request timeout, retry with backoff, empty reply guard and
// metrics.
package middleware

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"sgi/pkg/llm"
	"sgi/pkg/llm/llmerrors"
	"sgi/pkg/logx"
)

// RetryConfig holds the backoff parameters.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`   // including the first call
	InitialDelay  time.Duration `json:"initial_delay"`  // delay before the second attempt
	MaxDelay      time.Duration `json:"max_delay"`      // cap between attempts
	BackoffFactor float64       `json:"backoff_factor"` // multiplier per attempt
	Jitter        bool          `json:"jitter"`         // spread retries by up to 10%
}

// DefaultRetryConfig suits a chat turn: a user is waiting on the other side.
//
//nolint:gochecknoglobals // package default
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   2,
	InitialDelay:  300 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// RetryPolicy combines the backoff parameters with a classifier.
type RetryPolicy struct {
	Classifier Classifier
	Config     RetryConfig
}

// NewRetryPolicy returns a policy using llmerrors.IsRetryable when
// classifier is nil.
func NewRetryPolicy(cfg RetryConfig, classifier Classifier) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if classifier == nil {
		classifier = llmerrors.IsRetryable
	}
	return &RetryPolicy{Config: cfg, Classifier: classifier}
}

// CalculateDelay returns the wait before the given attempt (1-based).
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		spread := float64(delay) * 0.1
		delay += time.Duration((rand.Float64()*2 - 1) * spread) //nolint:gosec // jitter, not security
	}
	return delay
}

// ShouldRetry applies the classifier.
func (p *RetryPolicy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Retry re-issues failed requests according to policy. When every attempt
// fails with a retryable error the last one is wrapped as service
// unavailable.
func Retry(policy *RetryPolicy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		logger := logx.NewLogger("llm-retry")
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error
				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if attempt > 1 {
						if delay := policy.CalculateDelay(attempt); delay > 0 {
							select {
							case <-ctx.Done():
								return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
							}
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if !policy.ShouldRetry(err) || ctx.Err() != nil {
						return llm.CompletionResponse{}, err
					}
					logger.Warn("attempt %d/%d on %s failed: %v", attempt, policy.Config.MaxAttempts, next.GetModelName(), err)
				}
				return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			},
			next.GetModelName,
		)
	}
}
