// Package retry re-runs an operation with exponential backoff until it
// succeeds, fails permanently, or runs out of attempts.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Verdict tells Run what to do with a failed attempt.
type Verdict int

const (
	Abort     Verdict = iota // permanent, return at once
	Retry                    // transient, back off and retry
	Throttled                // back off at least ThrottleBackoff
)

type Policy struct {
	Attempts        int
	Backoff         time.Duration
	ThrottleBackoff time.Duration
	MaxBackoff      time.Duration // 0 means uncapped
	Clock           clockwork.Clock
	OnRetry         func(attempt int, err error, wait time.Duration)
}

// Run calls op until it returns nil. classify decides whether an error is
// worth another attempt; ctx cancellation interrupts the backoff wait.
func (p Policy) Run(ctx context.Context, classify func(error) Verdict, op func(context.Context) error) error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry policy needs at least one attempt, got %d", p.Attempts)
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	wait := p.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		verdict := classify(err)
		if verdict == Abort {
			return &PermanentError{Err: err}
		}
		if attempt >= p.Attempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		if verdict == Throttled && p.ThrottleBackoff > wait {
			wait = p.ThrottleBackoff
		}
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-clock.After(wait):
			wait *= 2
		case <-ctx.Done():
			return fmt.Errorf("retry interrupted after %d attempts: %w", attempt, ctx.Err())
		}
	}
}

// PermanentError wraps an error classified as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError wraps the last error once every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
