package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldPrompt    = "prompt"
	fieldCreatedAt = "createdAt"
)

func metaKey(pollID string) string   { return pollID }
func countsKey(pollID string) string { return pollID + ":counts" }

// PollCache is the counter cache. Metadata and counts of a poll live in two
// hashes; the counts hash decides whether a poll is cached.
type PollCache struct {
	rdb *goredis.Client
}

var _ domain.CounterCache = (*PollCache)(nil)

func NewPollCache(rdb *goredis.Client) *PollCache {
	return &PollCache{rdb: rdb}
}

// Populate writes metadata and seeds counts. Count fields that already exist
// are left alone, so a late populate never reverts accepted increments.
func (c *PollCache) Populate(ctx context.Context, poll *domain.Poll) error {
	meta := make(map[string]any, len(poll.Choices)+2)
	meta[fieldPrompt] = poll.Prompt
	meta[fieldCreatedAt] = poll.CreatedAt.UnixMilli()
	for i, choice := range poll.Choices {
		meta[domain.ChoiceField(i)] = choice.Text
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(poll.ID), meta)
		pipe.HSetNX(ctx, countsKey(poll.ID), domain.TotalField, poll.Total)
		for i, choice := range poll.Choices {
			pipe.HSetNX(ctx, countsKey(poll.ID), domain.ChoiceField(i), choice.Count)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to populate poll %s: %w", poll.ID, err)
	}
	return nil
}

// Correct replaces the cached counts with the given poll's counts.
func (c *PollCache) Correct(ctx context.Context, poll *domain.Poll) error {
	counts := make(map[string]any, len(poll.Choices)+1)
	for field, n := range poll.Counts() {
		counts[field] = n
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, countsKey(poll.ID))
		pipe.HSet(ctx, countsKey(poll.ID), counts)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to correct counts of poll %s: %w", poll.ID, err)
	}
	return nil
}

// Read returns the cached poll, or domain.ErrCacheMiss if either hash is absent.
func (c *PollCache) Read(ctx context.Context, pollID string) (*domain.Poll, error) {
	var metaCmd, countsCmd *goredis.MapStringStringCmd
	_, err := c.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, metaKey(pollID))
		countsCmd = pipe.HGetAll(ctx, countsKey(pollID))
		return nil
	})
	if err != nil {
		observeLookup("read", err)
		return nil, fmt.Errorf("failed to read poll %s: %w", pollID, err)
	}

	meta, rawCounts := metaCmd.Val(), countsCmd.Val()
	if len(meta) == 0 || len(rawCounts) == 0 {
		observeLookup("read", domain.ErrCacheMiss)
		return nil, domain.ErrCacheMiss
	}

	counts, err := domain.ParseCounts(rawCounts)
	if err != nil {
		observeLookup("read", err)
		return nil, fmt.Errorf("corrupt counts for poll %s: %w", pollID, err)
	}
	poll, err := decodeMeta(pollID, meta)
	if err != nil {
		observeLookup("read", err)
		return nil, err
	}

	observeLookup("read", nil)
	return poll.WithCounts(counts), nil
}

// ReadRaw returns only the counts record. Metadata presence is irrelevant.
func (c *PollCache) ReadRaw(ctx context.Context, pollID string) (domain.Counts, error) {
	raw, err := c.rdb.HGetAll(ctx, countsKey(pollID)).Result()
	if err != nil {
		observeLookup("read_raw", err)
		return nil, fmt.Errorf("failed to read counts of poll %s: %w", pollID, err)
	}
	if len(raw) == 0 {
		observeLookup("read_raw", domain.ErrCacheMiss)
		return nil, domain.ErrCacheMiss
	}

	counts, err := domain.ParseCounts(raw)
	if err != nil {
		observeLookup("read_raw", err)
		return nil, fmt.Errorf("corrupt counts for poll %s: %w", pollID, err)
	}
	observeLookup("read_raw", nil)
	return counts, nil
}

// Increment adds one vote to the choice at position and to the total, and
// returns the counts as they were right after the increment. An uncached poll
// is reported as a cache miss before the position is checked.
func (c *PollCache) Increment(ctx context.Context, pollID string, position int) (domain.Counts, error) {
	counts, err := runIncrement(ctx, c.rdb, countsKey(pollID), domain.ChoiceField(position))
	observeLookup("increment", err)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) || errors.Is(err, domain.ErrChoiceOutOfRange) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to increment poll %s: %w", pollID, err)
	}
	return counts, nil
}

func decodeMeta(pollID string, meta map[string]string) (*domain.Poll, error) {
	createdMs, err := strconv.ParseInt(meta[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt createdAt for poll %s: %w", pollID, err)
	}

	poll := &domain.Poll{
		ID:        pollID,
		Prompt:    meta[fieldPrompt],
		CreatedAt: time.UnixMilli(createdMs).UTC(),
	}
	for i := 0; ; i++ {
		text, ok := meta[domain.ChoiceField(i)]
		if !ok {
			break
		}
		poll.Choices = append(poll.Choices, domain.Choice{Text: text})
	}
	return poll, nil
}

func observeLookup(operation string, err error) {
	result := "hit"
	switch {
	case errors.Is(err, domain.ErrCacheMiss):
		result = "miss"
	case errors.Is(err, domain.ErrChoiceOutOfRange):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	metrics.CacheLookupsTotal.WithLabelValues(operation, result).Inc()
}

const scanBatch = 100

// ScanCachedPolls calls fn with the id of every poll whose counts are cached.
// Keys created or removed during the scan may or may not be visited.
func (c *PollCache) ScanCachedPolls(ctx context.Context, fn func(pollID string) error) error {
	iter := c.rdb.Scan(ctx, 0, countsKey("*"), scanBatch).Iterator()
	for iter.Next(ctx) {
		if err := fn(strings.TrimSuffix(iter.Val(), countsKey(""))); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached polls: %w", err)
	}
	return nil
}
