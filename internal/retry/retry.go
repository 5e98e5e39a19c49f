package retry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

// Policy configures attempts and backoff
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxDelay       time.Duration
}

// DefaultPolicy returns three attempts with 1s exponential backoff and a
// longer 5s base for rate limits
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		RateLimitDelay: 5 * time.Second,
		MaxDelay:       30 * time.Second,
	}
}

// Stats counts retry activity for one check
type Stats struct {
	attempts      atomic.Int64
	retries       atomic.Int64
	rateLimitHits atomic.Int64
}

// Attempts returns the number of calls made
func (s *Stats) Attempts() int { return int(s.attempts.Load()) }

// Retries returns the number of calls repeated after a failure
func (s *Stats) Retries() int { return int(s.retries.Load()) }

// RateLimitHits returns how many failures were rate limits
func (s *Stats) RateLimitHits() int { return int(s.rateLimitHits.Load()) }

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs provider calls with classification-driven retries
type Executor struct {
	policy Policy
	logger *zap.Logger
	sleep  SleepFunc
}

// NewExecutor creates a new retry executor
func NewExecutor(policy Policy, logger *zap.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Executor{
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// WithSleep replaces the sleep function, used by tests
func (e *Executor) WithSleep(sleep SleepFunc) *Executor {
	clone := *e
	clone.sleep = sleep
	return &clone
}

// Do invokes fn until it succeeds, fails with a non-retryable kind or runs
// out of attempts. stats may be nil.
func (e *Executor) Do(ctx context.Context, op string, stats *Stats, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if stats != nil {
			stats.attempts.Add(1)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := core.KindOf(err)
		if kind == core.KindRateLimit && stats != nil {
			stats.rateLimitHits.Add(1)
		}
		if !kind.Retryable() {
			return err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.Delay(attempt, err)
		e.logger.Debug("Retrying provider call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Duration("delay", delay),
			zap.Error(err))

		if stats != nil {
			stats.retries.Add(1)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	e.logger.Warn("Provider call failed after retries",
		zap.String("op", op),
		zap.Int("attempts", e.policy.MaxAttempts),
		zap.Error(lastErr))

	return &core.RetryExhaustedError{Attempts: e.policy.MaxAttempts, Last: lastErr}
}

// Delay returns the wait before the attempt following a failed attempt n (1-based)
func (e *Executor) Delay(attempt int, err error) time.Duration {
	base := e.policy.BaseDelay
	if core.KindOf(err) == core.KindRateLimit {
		base = e.policy.RateLimitDelay
		if hint := core.RetryAfterOf(err); hint > base {
			base = hint
		}
	}

	delay := base << (attempt - 1)
	if e.policy.MaxDelay > 0 && (delay > e.policy.MaxDelay || delay <= 0) {
		delay = e.policy.MaxDelay
	}
	return delay
}

// Call runs fn through the executor and returns its value
func Call[T any](ctx context.Context, e *Executor, op string, stats *Stats, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, stats, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
