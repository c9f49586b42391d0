package polls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
)

// Coordinator applies votes. The hot path touches only the counter cache,
// the bus and the pending-write queue; durable writes happen in the Drainer.
type Coordinator struct {
	polls     *Service
	cache     domain.CounterCache
	publisher domain.CountsPublisher
	pending   domain.PendingWrites
}

func NewCoordinator(polls *Service, cache domain.CounterCache, publisher domain.CountsPublisher, pending domain.PendingWrites) *Coordinator {
	return &Coordinator{
		polls:     polls,
		cache:     cache,
		publisher: publisher,
		pending:   pending,
	}
}

// Vote increments the choice at position and returns the post-increment
// counts. It fails with domain.ErrPollNotFound or domain.ErrChoiceOutOfRange
// without changing any count. Once the increment is applied the counts are
// returned even if propagation failed, together with that error.
func (c *Coordinator) Vote(ctx context.Context, id string, position int) (counts domain.Counts, err error) {
	start := time.Now()
	defer func() {
		metrics.VoteDuration.Observe(time.Since(start).Seconds())
		metrics.VotesTotal.WithLabelValues(voteResult(err)).Inc()
	}()

	counts, err = c.cache.Increment(ctx, id, position)
	if errors.Is(err, domain.ErrCacheMiss) {
		slog.Debug("Vote on uncached poll, repopulating", "poll_id", id)
		if err := c.polls.Repopulate(ctx, id); err != nil {
			return nil, err
		}
		counts, err = c.cache.Increment(ctx, id, position)
	}
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, fmt.Errorf("poll %s evicted during vote: %w", id, err)
		}
		return nil, err
	}

	return counts, c.propagate(ctx, id, counts)
}

// propagate publishes the counts and marks the poll dirty. The dirty mark is
// attempted even when publishing fails so the vote still reaches the
// durable store.
func (c *Coordinator) propagate(ctx context.Context, id string, counts domain.Counts) error {
	var errs []error
	if err := c.publisher.PublishCounts(ctx, id, counts); err != nil {
		errs = append(errs, err)
	}
	if err := c.pending.MarkDirty(ctx, id, 1); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		slog.Error("Vote applied but not fully propagated", "poll_id", id, "error", errors.Join(errs...))
		return &PropagationError{Err: errors.Join(errs...)}
	}
	return nil
}

// PropagationError reports a vote that was counted but could not be
// published or queued for persistence.
type PropagationError struct {
	Err error
}

func (e *PropagationError) Error() string { return "vote applied but not propagated: " + e.Err.Error() }
func (e *PropagationError) Unwrap() error { return e.Err }

func voteResult(err error) string {
	var propErr *PropagationError
	switch {
	case err == nil:
		return "applied"
	case errors.As(err, &propErr):
		return "unpropagated"
	case errors.Is(err, domain.ErrPollNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrChoiceOutOfRange):
		return "out_of_range"
	default:
		return "error"
	}
}
