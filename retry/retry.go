// Package retry implements the retry and backoff policy shared by the flow
// scheduler (per-step retries) and the task controller (whole-task retries).
//
// The policy is pure: Decide classifies an error and computes the next delay
// without sleeping. Do wraps Decide into a context-aware execution loop.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/dastron/video-ware-sub000/core"
)

// Policy configures retry behavior for one budget.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// Decision is the outcome of classifying a failure.
type Decision struct {
	// Retry reports whether another attempt should be made
	Retry bool

	// Delay is how long to wait before the next attempt
	Delay time.Duration

	// Reason explains why retry was denied or granted
	Reason string
}

// DefaultPolicy provides sensible defaults for step-level retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		JitterFactor: 0.1,
	}
}

// FromSettings builds a Policy from a configuration block.
func FromSettings(s core.RetrySettings) Policy {
	p := Policy{
		MaxAttempts:  s.MaxAttempts,
		BaseDelay:    s.BaseDelay,
		MaxDelay:     s.MaxDelay,
		JitterFactor: s.JitterFactor,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	return p
}

// Decide classifies err after attemptsMade attempts and computes the delay
// before the next attempt. Errors are retryable unless classified terminal;
// cancellation is never retried in place.
func (p Policy) Decide(err error, attemptsMade int) Decision {
	if err == nil {
		return Decision{Reason: "no error"}
	}
	if core.IsCancellation(err) {
		return Decision{Reason: "cancelled"}
	}
	if core.IsTerminal(err) {
		return Decision{Reason: fmt.Sprintf("terminal: %v", err)}
	}
	if attemptsMade >= p.MaxAttempts {
		return Decision{Reason: fmt.Sprintf("attempts exhausted (%d/%d)", attemptsMade, p.MaxAttempts)}
	}

	return Decision{
		Retry:  true,
		Delay:  p.delay(attemptsMade),
		Reason: "retryable",
	}
}

// delay computes min(MaxDelay, BaseDelay * 2^(attemptsMade-1)) scaled by a
// uniform random factor in [1-jitter, 1+jitter].
func (p Policy) delay(attemptsMade int) time.Duration {
	exp := attemptsMade - 1
	if exp < 0 {
		exp = 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(exp))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		factor := 1 - p.JitterFactor + 2*p.JitterFactor*rand.Float64()
		d *= factor
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Sleep waits for d, returning early with the context error on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Do executes fn with the policy, sleeping between attempts.
// The last error is wrapped with core.ErrMaxRetriesExceeded when the budget
// runs out; terminal errors are returned as-is.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		decision := p.Decide(lastErr, attempt)
		if !decision.Retry {
			if core.IsTerminal(lastErr) || core.IsCancellation(lastErr) {
				return lastErr
			}
			return fmt.Errorf("%w after %d attempts: %v", core.ErrMaxRetriesExceeded, attempt, lastErr)
		}

		if err := Sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
}
