package polls

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/pollpulse/internal/domain"
)

// --- In-memory test doubles ---

type memRepo struct {
	mu    sync.Mutex
	polls map[string]*domain.Poll

	getCalls       int
	overwriteCalls int
	getErr         error
	getHook        func(ctx context.Context)
	overwriteErr   func(attempt int) error
}

func newMemRepo() *memRepo {
	return &memRepo{polls: make(map[string]*domain.Poll)}
}

func (r *memRepo) CreatePoll(_ context.Context, prompt string, choices []string) (*domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &domain.Poll{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	for _, c := range choices {
		p.Choices = append(p.Choices, domain.Choice{Text: c})
	}
	r.polls[p.ID] = p
	return p.WithCounts(p.Counts()), nil
}

func (r *memRepo) GetPoll(ctx context.Context, id string) (*domain.Poll, error) {
	if r.getHook != nil {
		r.getHook(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.getCalls++
	if r.getErr != nil {
		return nil, r.getErr
	}
	p, ok := r.polls[id]
	if !ok {
		return nil, domain.ErrPollNotFound
	}
	return p.WithCounts(p.Counts()), nil
}

func (r *memRepo) OverwriteCounts(_ context.Context, id string, total int64, counts []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overwriteCalls++
	if r.overwriteErr != nil {
		if err := r.overwriteErr(r.overwriteCalls); err != nil {
			return err
		}
	}
	p, ok := r.polls[id]
	if !ok {
		return domain.ErrPollNotFound
	}
	if total < p.Total {
		return fmt.Errorf("%w: stored %d, got %d", domain.ErrCountsSuperseded, p.Total, total)
	}
	if len(counts) != len(p.Choices) {
		return fmt.Errorf("%w: count mismatch", domain.ErrInvalidPoll)
	}
	p.Total = total
	for i, n := range counts {
		p.Choices[i].Count = n
	}
	return nil
}

func (r *memRepo) snapshot(id string) *domain.Poll {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.polls[id]
	return p.WithCounts(p.Counts())
}

// memCache mirrors the Redis counter cache: populate never reverts counts
// and increments never create fields.
type memCache struct {
	mu     sync.Mutex
	meta   map[string]*domain.Poll
	counts map[string]domain.Counts

	populateCalls int
	populateErr   error
	incrementErr  error
}

func newMemCache() *memCache {
	return &memCache{meta: make(map[string]*domain.Poll), counts: make(map[string]domain.Counts)}
}

func (c *memCache) Populate(_ context.Context, poll *domain.Poll) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.populateCalls++
	if c.populateErr != nil {
		return c.populateErr
	}
	c.meta[poll.ID] = poll.WithCounts(poll.Counts())
	existing, ok := c.counts[poll.ID]
	if !ok {
		existing = domain.Counts{}
		c.counts[poll.ID] = existing
	}
	for field, n := range poll.Counts() {
		if _, ok := existing[field]; !ok {
			existing[field] = n
		}
	}
	return nil
}

func (c *memCache) Read(_ context.Context, id string) (*domain.Poll, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok1 := c.meta[id]
	counts, ok2 := c.counts[id]
	if !ok1 || !ok2 {
		return nil, domain.ErrCacheMiss
	}
	return meta.WithCounts(counts), nil
}

func (c *memCache) ReadRaw(_ context.Context, id string) (domain.Counts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts, ok := c.counts[id]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return copyCounts(counts), nil
}

func (c *memCache) Increment(_ context.Context, id string, position int) (domain.Counts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.incrementErr != nil {
		return nil, c.incrementErr
	}
	counts, ok := c.counts[id]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	field := domain.ChoiceField(position)
	if _, ok := counts[field]; !ok || position < 0 {
		return nil, domain.ErrChoiceOutOfRange
	}
	counts[field]++
	counts[domain.TotalField]++
	return copyCounts(counts), nil
}

func (c *memCache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.meta, id)
	delete(c.counts, id)
}

func copyCounts(in domain.Counts) domain.Counts {
	out := make(domain.Counts, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type published struct {
	pollID string
	counts domain.Counts
}

type recordingPublisher struct {
	mu         sync.Mutex
	counts     []published
	announced  []string
	publishErr error
}

func (p *recordingPublisher) PublishCounts(_ context.Context, pollID string, counts domain.Counts) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.counts = append(p.counts, published{pollID: pollID, counts: copyCounts(counts)})
	return nil
}

func (p *recordingPublisher) AnnounceNewPoll(_ context.Context, pollID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announced = append(p.announced, pollID)
	return nil
}

func (p *recordingPublisher) announcements() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.announced...)
}

// memPending is a coalescing max-priority queue with a blocking pop.
type memPending struct {
	mu      sync.Mutex
	scores  map[string]int64
	signal  chan struct{}
	markErr error
}

func newMemPending() *memPending {
	return &memPending{scores: make(map[string]int64), signal: make(chan struct{}, 1)}
}

func (p *memPending) MarkDirty(_ context.Context, id string, increments int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.markErr != nil {
		return p.markErr
	}
	p.scores[id] += increments
	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

func (p *memPending) PopDirtiest(ctx context.Context) (string, error) {
	for {
		if id, ok, _ := p.PopDirtiestNow(ctx); ok {
			return id, nil
		}
		select {
		case <-p.signal:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (p *memPending) PopDirtiestNow(context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.scores) == 0 {
		return "", false, nil
	}
	ids := make([]string, 0, len(p.scores))
	for id := range p.scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return p.scores[ids[i]] > p.scores[ids[j]] })
	delete(p.scores, ids[0])
	return ids[0], true, nil
}

func (p *memPending) score(id string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scores[id]
}

var errTransport = errors.New("dial tcp 10.0.0.1:6379: connection refused")

type harness struct {
	repo      *memRepo
	cache     *memCache
	publisher *recordingPublisher
	pending   *memPending
	service   *Service
	votes     *Coordinator
}

func newHarness() *harness {
	h := &harness{
		repo:      newMemRepo(),
		cache:     newMemCache(),
		publisher: &recordingPublisher{},
		pending:   newMemPending(),
	}
	h.service = NewService(h.repo, h.cache, h.publisher)
	h.votes = NewCoordinator(h.service, h.cache, h.publisher, h.pending)
	return h
}
