package errors

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Operation is a unit of work the retry handler wraps. It returns its raw
// error unclassified; Retry classifies it via Classify.
type Operation func(ctx context.Context) error

// OnRetry is called before each sleep, with the attempt number (1-based)
// and the chosen backoff duration, so callers can surface it to a task log.
type OnRetry func(attempt int, kind Kind, backoff time.Duration, cause error)

// Retry wraps op, classifying failures and retrying transient categories
// per their RetryPolicy. It returns a *RetryExhausted once the policy's
// MaxAttempts is consumed, or the last (non-transient) error immediately.
func Retry(ctx context.Context, logger zerolog.Logger, op Operation, onRetry OnRetry) error {
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}

		kind := Classify(err)
		policy := PolicyOf(kind)
		if !policy.ShouldRetry || attempt >= policy.MaxAttempts {
			if policy.ShouldRetry {
				return &RetryExhausted{Kind: kind, Attempts: attempt, LastErr: err}
			}
			return err
		}

		wait := backoffFor(policy, attempt)
		if onRetry != nil {
			onRetry(attempt, kind, wait, err)
		}
		logger.Warn().
			Str("kind", string(kind)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("retrying after transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// backoffFor computes min(initial * multiplier^(attempt-1), cap), matching
// the formula spec.md §4.6 specifies. It uses backoff.ExponentialBackOff's
// jitter-free interval field arithmetic rather than its own Retry loop, so
// the exact formula (and the RetryExhausted boundary) stays under our
// control while the library still owns the interval bookkeeping.
func backoffFor(policy RetryPolicy, attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialBackoff
	eb.Multiplier = policy.Multiplier
	eb.MaxInterval = policy.MaxBackoff
	eb.RandomizationFactor = 0
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}

	want := time.Duration(float64(policy.InitialBackoff) * math.Pow(policy.Multiplier, float64(attempt-1)))
	if want > policy.MaxBackoff {
		want = policy.MaxBackoff
	}
	if d != want {
		// RandomizationFactor is 0 so the library's sequence should match
		// the closed-form formula exactly; fall back to it defensively.
		d = want
	}
	return d
}

// Breaker wraps an Operation with a circuit breaker so a sustained-down
// dependency (an LLM provider, a forge API) fails fast instead of letting
// every task retry into the same timeout. The gateway creates one Breaker
// per provider name and reuses it across calls.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreaker creates a circuit breaker named for logging/metrics purposes,
// opening once consecutive failures reach threshold.
func NewBreaker(name string, consecutiveFailureThreshold uint32, openTimeout time.Duration) *Breaker {
	st := gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](st)}
}

// Do runs op through the breaker. When the breaker is open, it returns
// gobreaker.ErrOpenState without invoking op at all.
func (b *Breaker) Do(ctx context.Context, op Operation) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, op(ctx)
	})
	return err
}
