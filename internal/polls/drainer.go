package polls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
	"github.com/pscheid92/pollpulse/internal/platform/retry"
	"github.com/sony/gobreaker"
)

const popErrorBackoff = time.Second

// Drainer persists dirty polls to the durable store. It always flushes the
// counts read at flush time, so flushing is idempotent and several drainers
// may run at once, in one process or many.
type Drainer struct {
	cache   domain.CounterCache
	repo    domain.PollRepository
	pending domain.PendingWrites
	clock   clockwork.Clock
	breaker *gobreaker.CircuitBreaker
	policy  retry.Policy
}

func NewDrainer(cache domain.CounterCache, repo domain.PollRepository, pending domain.PendingWrites, clock clockwork.Clock) *Drainer {
	return &Drainer{
		cache:   cache,
		repo:    repo,
		pending: pending,
		clock:   clock,
		breaker: newFlushBreaker(30 * time.Second),
		policy: retry.Policy{
			Attempts:   3,
			Backoff:    100 * time.Millisecond,
			MaxBackoff: time.Second,
			Clock:      clock,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				slog.Warn("Retrying durable flush", "attempt", attempt, "backoff", wait, "error", err)
			},
		},
	}
}

// newFlushBreaker opens after 5 consecutive failed flushes and lets one
// probe through after timeout. Flushes rejected for poll-level reasons do
// not count against the database.
func newFlushBreaker(timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "durable_flush",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrPollNotFound) ||
				errors.Is(err, domain.ErrInvalidPoll) ||
				errors.Is(err, domain.ErrCountsSuperseded) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Run drains until ctx is done. Failed flushes are logged and the loop moves
// on; the poll is flushed again on its next dirty mark.
func (d *Drainer) Run(ctx context.Context) error {
	slog.Info("Drainer started")
	defer slog.Info("Drainer stopped")

	for {
		id, err := d.pending.PopDirtiest(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Error("Failed to pop pending write", "error", err)
			select {
			case <-d.clock.After(popErrorBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := d.FlushOne(ctx, id); err != nil && ctx.Err() == nil {
			logFlushError(id, err)
		}
	}
}

// FlushOne overwrites the durable counts of one poll with its cached counts.
// Every attempt reads the cache again, and a write refused because the store
// already holds newer counts counts as done.
func (d *Drainer) FlushOne(ctx context.Context, id string) (err error) {
	start := d.clock.Now()
	superseded := false
	defer func() {
		metrics.DrainFlushDuration.Observe(d.clock.Since(start).Seconds())
		result := flushResult(err)
		if superseded {
			result = "superseded"
		}
		metrics.DrainFlushesTotal.WithLabelValues(result).Inc()
	}()

	var total int64
	err = d.policy.Run(ctx, classifyFlushError, func(ctx context.Context) error {
		counts, err := d.cache.ReadRaw(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read counts of poll %s: %w", id, err)
		}
		positions, err := counts.Positions()
		if err != nil {
			return fmt.Errorf("malformed counts of poll %s: %w", id, err)
		}
		total = counts.Total()

		_, err = d.breaker.Execute(func() (any, error) {
			return nil, d.repo.OverwriteCounts(ctx, id, total, positions)
		})
		return err
	})
	if errors.Is(err, domain.ErrCountsSuperseded) {
		slog.Debug("Flush superseded by a newer one", "poll_id", id, "total", total)
		superseded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to flush poll %s: %w", id, err)
	}

	slog.Debug("Poll flushed", "poll_id", id, "total", total)
	return nil
}

// DrainStats summarizes a DrainPending run.
type DrainStats struct {
	Flushed int
	Failed  int
}

// DrainPending flushes every poll currently pending without blocking.
// Failed flushes are logged and counted, and are not re-queued.
func (d *Drainer) DrainPending(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	for {
		id, ok, err := d.pending.PopDirtiestNow(ctx)
		if err != nil {
			return stats, err
		}
		if !ok {
			return stats, nil
		}

		if err := d.FlushOne(ctx, id); err != nil {
			logFlushError(id, err)
			stats.Failed++
			continue
		}
		stats.Flushed++
	}
}

func classifyFlushError(err error) retry.Verdict {
	switch {
	case errors.Is(err, domain.ErrPollNotFound),
		errors.Is(err, domain.ErrInvalidPoll),
		errors.Is(err, domain.ErrCountsSuperseded),
		errors.Is(err, domain.ErrCacheMiss),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, context.Canceled):
		return retry.Abort
	default:
		return retry.Retry
	}
}

func flushResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrCacheMiss):
		return "cache_miss"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}

func logFlushError(id string, err error) {
	if errors.Is(err, domain.ErrCacheMiss) {
		slog.Warn("Skipping flush of evicted poll", "poll_id", id)
		return
	}
	slog.Error("Durable flush failed", "poll_id", id, "error", err)
}
