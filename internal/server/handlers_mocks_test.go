package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/platform/config"
)

// --- Mock implementations ---

type mockPollService struct {
	createFn func(ctx context.Context, prompt string, choices []string) (*domain.Poll, error)
	getFn    func(ctx context.Context, id string) (*domain.Poll, error)
	getRawFn func(ctx context.Context, id string) (domain.Counts, error)
}

func (m *mockPollService) Create(ctx context.Context, prompt string, choices []string) (*domain.Poll, error) {
	if m.createFn != nil {
		return m.createFn(ctx, prompt, choices)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPollService) Get(ctx context.Context, id string) (*domain.Poll, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrPollNotFound
}

func (m *mockPollService) GetRaw(ctx context.Context, id string) (domain.Counts, error) {
	if m.getRawFn != nil {
		return m.getRawFn(ctx, id)
	}
	return nil, domain.ErrPollNotFound
}

type mockVoteCoordinator struct {
	mu     sync.Mutex
	calls  int
	voteFn func(ctx context.Context, id string, position int) (domain.Counts, error)
}

func (m *mockVoteCoordinator) Vote(ctx context.Context, id string, position int) (domain.Counts, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.voteFn != nil {
		return m.voteFn(ctx, id, position)
	}
	return domain.Counts{"total": 1, "choice:0": 1, "choice:1": 0}, nil
}

func (m *mockVoteCoordinator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRegistry struct {
	attachFn func(key string, conn *websocket.Conn, snapshot []byte) error
}

func (m *mockRegistry) Attach(key string, conn *websocket.Conn, snapshot []byte) error {
	if m.attachFn != nil {
		return m.attachFn(key, conn, snapshot)
	}
	return nil
}

func (m *mockRegistry) Detach(string, *websocket.Conn) {}

// memSubscriber is an in-process domain.Subscriber for registry-backed tests.
type memSubscriber struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newMemSubscriber() *memSubscriber {
	return &memSubscriber{subs: make(map[string][]chan []byte)}
}

func (s *memSubscriber) Subscribe(_ context.Context, topic string) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []byte, 16)
	s.subs[topic] = append(s.subs[topic], ch)
	return &memSubscription{owner: s, topic: topic, ch: ch}, nil
}

func (s *memSubscriber) publish(topic string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (s *memSubscriber) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[topic]) > 0
}

type memSubscription struct {
	owner *memSubscriber
	topic string
	ch    chan []byte
	once  sync.Once
}

func (s *memSubscription) Messages() <-chan []byte { return s.ch }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		defer s.owner.mu.Unlock()
		subs := s.owner.subs[s.topic]
		for i, ch := range subs {
			if ch == s.ch {
				s.owner.subs[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}

// --- Test server builder ---

type testServerOption func(*testServerDeps)

type testServerDeps struct {
	polls        pollService
	votes        voteCoordinator
	registry     viewerRegistry
	healthChecks []HealthCheck
	config       *config.Config
}

func withPolls(p pollService) testServerOption {
	return func(d *testServerDeps) { d.polls = p }
}

func withVotes(v voteCoordinator) testServerOption {
	return func(d *testServerDeps) { d.votes = v }
}

func withRegistry(r viewerRegistry) testServerOption {
	return func(d *testServerDeps) { d.registry = r }
}

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(d *testServerDeps) { d.healthChecks = checks }
}

func withVoteRateLimit(limit float64, burst int) testServerOption {
	return func(d *testServerDeps) {
		d.config.VoteRateLimit = limit
		d.config.VoteRateBurst = burst
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:            "test",
		Port:              "0",
		SessionSecret:     "test-session-secret-at-least-32-bytes!!",
		SessionMaxAge:     time.Hour,
		HeartbeatInterval: time.Minute,
		MaxViewersPerPoll: 100,
		VoteRateLimit:     1000,
		VoteRateBurst:     1000,
	}
}

func newTestServer(t *testing.T, opts ...testServerOption) *Server {
	t.Helper()

	deps := &testServerDeps{
		polls:    &mockPollService{},
		votes:    &mockVoteCoordinator{},
		registry: &mockRegistry{},
		config:   testConfig(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	return NewServer(deps.config, deps.polls, deps.votes, deps.registry, deps.healthChecks)
}
