package engine

import (
	"context"
	"time"
)

const defaultMultiplier = 2.0

// RetryPolicy governs whether, when, and how a failed attempt re-runs.
//
// IsRetryable is consulted with the attempt's result (synthesized with
// ExitCode -1 for transport errors); when nil the default predicate
// retries a non-zero exit from the target command only, never a
// transport error. OnRetry fires before each sleep, never after a
// terminal attempt.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	IsRetryable  func(*ExecutionResult) bool
	OnRetry      func(attempt int, res *ExecutionResult, delay time.Duration)
}

// Sleeper abstracts the between-attempt wait so tests fast-forward
// simulated time instead of sleeping on real timers.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// executeWithRetry runs cmd through ad under p. Attempts are strictly
// sequential; MaxRetries 0 executes exactly once. The terminal failure
// carrier is always a RetryError so callers see every attempt.
func (e *Engine) executeWithRetry(ctx context.Context, name string, ad Adapter, cmd Command, p RetryPolicy) (*ExecutionResult, error) {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	results := make([]*ExecutionResult, 0, attempts)

	var (
		lastRes *ExecutionResult
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := ad.Execute(ctx, cmd)
		if res == nil {
			res = SynthesizeResult(cmd, name, err)
		}
		results = append(results, res)
		lastRes, lastErr = res, err

		if err == nil && res.OK() {
			return res, nil
		}

		retryable := err == nil && res.ExitCode != 0
		if p.IsRetryable != nil {
			retryable = p.IsRetryable(res)
		}
		if !retryable || attempt == attempts {
			break
		}

		delay := NextRetryDelay(p, attempt, e.rng)
		if p.OnRetry != nil {
			p.OnRetry(attempt, res, delay)
		}
		e.recordRetry(name)
		if serr := e.sleeper.Sleep(ctx, delay); serr != nil {
			return lastRes, serr
		}
	}

	if cmd.NoThrow {
		return lastRes, nil
	}
	return lastRes, &RetryError{
		Attempts: len(results),
		Results:  results,
		Last:     lastRes,
		Err:      lastErr,
	}
}
