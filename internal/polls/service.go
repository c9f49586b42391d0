package polls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	// backgroundTimeout bounds fire-and-forget work that outlives its request.
	backgroundTimeout = 5 * time.Second
	// loadTimeout bounds a shared durable read, which no single caller owns.
	loadTimeout = 5 * time.Second
)

// Service creates polls and serves reads cache-aside. It is the only place
// that decides what happens on a counter cache miss.
type Service struct {
	repo      domain.PollRepository
	cache     domain.CounterCache
	publisher domain.CountsPublisher

	loadGroup singleflight.Group
	bg        sync.WaitGroup
}

func NewService(repo domain.PollRepository, cache domain.CounterCache, publisher domain.CountsPublisher) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
	}
}

// Create stores a new poll durably, caches it with zero counts and announces
// it on the new-poll topic. A failed cache write is not fatal: the first read
// or vote repopulates from the durable store.
func (s *Service) Create(ctx context.Context, prompt string, choices []string) (*domain.Poll, error) {
	prompt, choices, err := normalize(prompt, choices)
	if err != nil {
		return nil, err
	}

	poll, err := s.repo.CreatePoll(ctx, prompt, choices)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}
	metrics.PollsCreatedTotal.Inc()

	log := slog.With("poll_id", poll.ID)
	if err := s.cache.Populate(ctx, poll); err != nil {
		log.Error("Failed to cache new poll", "error", err)
	}

	s.spawn(ctx, "announce new poll", func(ctx context.Context) error {
		return s.publisher.AnnounceNewPoll(ctx, poll.ID)
	})

	log.Info("Poll created", "choices", len(poll.Choices))
	return poll, nil
}

// Get returns the poll with its current counts. On a cache miss the durable
// poll is returned and the cache is populated in the background.
func (s *Service) Get(ctx context.Context, id string) (*domain.Poll, error) {
	poll, err := s.cache.Read(ctx, id)
	if err == nil {
		return poll, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, err
	}

	slog.Debug("Counter cache miss", "poll_id", id)
	poll, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.populateAsync(ctx, poll)
	return poll, nil
}

// GetRaw returns only the counts record, as sent to viewers.
func (s *Service) GetRaw(ctx context.Context, id string) (domain.Counts, error) {
	counts, err := s.cache.ReadRaw(ctx, id)
	if err == nil {
		return counts, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, err
	}

	slog.Debug("Counter cache miss", "poll_id", id, "raw", true)
	poll, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.populateAsync(ctx, poll)
	return poll.Counts(), nil
}

// Repopulate fetches the poll from the durable store and caches it before
// returning. Populate never reverts counts already in the cache.
func (s *Service) Repopulate(ctx context.Context, id string) error {
	poll, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.cache.Populate(ctx, poll); err != nil {
		metrics.CacheRepopulationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to populate poll %s: %w", id, err)
	}
	metrics.CacheRepopulationsTotal.WithLabelValues("success").Inc()
	return nil
}

// load fetches a poll from the durable store, collapsing concurrent fetches
// of the same id. The shared fetch is detached from the caller that started
// it, so one cancelled request does not fail the others waiting on it.
func (s *Service) load(ctx context.Context, id string) (*domain.Poll, error) {
	ch := s.loadGroup.DoChan(id, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.repo.GetPoll(loadCtx, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to load poll %s: %w", id, ctx.Err())
	}

	if errors.Is(res.Err, domain.ErrPollNotFound) {
		metrics.CacheRepopulationsTotal.WithLabelValues("not_found").Inc()
		return nil, res.Err
	}
	if res.Err != nil {
		return nil, fmt.Errorf("failed to load poll %s: %w", id, res.Err)
	}
	return res.Val.(*domain.Poll), nil
}

func (s *Service) populateAsync(ctx context.Context, poll *domain.Poll) {
	s.spawn(ctx, "populate cache", func(ctx context.Context) error {
		if err := s.cache.Populate(ctx, poll); err != nil {
			metrics.CacheRepopulationsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.CacheRepopulationsTotal.WithLabelValues("success").Inc()
		return nil
	})
}

// spawn runs fn in the background, detached from the caller's cancellation,
// and logs its error.
func (s *Service) spawn(ctx context.Context, what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.ErrorContext(ctx, "Background task failed", "task", what, "error", err)
		}
	}()
}

// Wait blocks until background work spawned so far has finished.
func (s *Service) Wait() {
	s.bg.Wait()
}
