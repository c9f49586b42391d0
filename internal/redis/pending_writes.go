package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const (
	PendingWritesKey = "pending_writes"

	// popBlockSlice bounds a single BZPOPMAX so a cancelled context is noticed
	// without relying on the connection being torn down.
	popBlockSlice = 2 * time.Second
)

// PendingWrites is a sorted set of poll ids scored by increments since the
// last flush. Popping an entry resets its score.
type PendingWrites struct {
	rdb *goredis.Client
	key string
}

var _ domain.PendingWrites = (*PendingWrites)(nil)

func NewPendingWrites(rdb *goredis.Client) *PendingWrites {
	return &PendingWrites{rdb: rdb, key: PendingWritesKey}
}

func (p *PendingWrites) MarkDirty(ctx context.Context, pollID string, increments int64) error {
	if err := p.rdb.ZIncrBy(ctx, p.key, float64(increments), pollID).Err(); err != nil {
		return fmt.Errorf("failed to mark poll %s dirty: %w", pollID, err)
	}
	metrics.PendingMarksTotal.Add(float64(increments))
	return nil
}

// PopDirtiest waits, without a deadline, for the poll with the most pending
// increments. It returns ctx.Err() once ctx is done.
func (p *PendingWrites) PopDirtiest(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := p.rdb.BZPopMax(ctx, popBlockSlice, p.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to pop pending write: %w", err)
		}

		metrics.DrainCoalescedIncrements.Observe(res.Score)
		return memberString(res.Member), nil
	}
}

// PopDirtiestNow pops without waiting; ok is false when nothing is pending.
func (p *PendingWrites) PopDirtiestNow(ctx context.Context) (string, bool, error) {
	res, err := p.rdb.ZPopMax(ctx, p.key, 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to pop pending write: %w", err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	metrics.DrainCoalescedIncrements.Observe(res[0].Score)
	return memberString(res[0].Member), true, nil
}

// Len reports how many polls are waiting to be flushed.
func (p *PendingWrites) Len(ctx context.Context) (int64, error) {
	n, err := p.rdb.ZCard(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending writes: %w", err)
	}
	return n, nil
}

// score reports the pending increments of a poll, zero when it is not queued.
func (p *PendingWrites) score(ctx context.Context, pollID string) (int64, error) {
	score, err := p.rdb.ZScore(ctx, p.key, pollID).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pending score of poll %s: %w", pollID, err)
	}
	return int64(score), nil
}

func memberString(member any) string {
	if s, ok := member.(string); ok {
		return s
	}
	return fmt.Sprint(member)
}
