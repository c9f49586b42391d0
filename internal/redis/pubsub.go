package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const subscriptionBufferSize = 64

// Bus carries counts payloads and new-poll announcements across instances
// via Redis Pub/Sub.
type Bus struct {
	rdb *goredis.Client
}

var (
	_ domain.CountsPublisher = (*Bus)(nil)
	_ domain.Subscriber      = (*Bus)(nil)
)

func NewBus(rdb *goredis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// PublishCounts publishes the counts record as the fanout wire payload.
func (b *Bus) PublishCounts(ctx context.Context, pollID string, counts domain.Counts) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	if err := b.rdb.Publish(ctx, domain.VoteTopic(pollID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish counts of poll %s: %w", pollID, err)
	}
	return nil
}

func (b *Bus) AnnounceNewPoll(ctx context.Context, pollID string) error {
	if err := b.rdb.Publish(ctx, domain.NewPollTopic, pollID).Err(); err != nil {
		return fmt.Errorf("failed to announce poll %s: %w", pollID, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published afterwards is missed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (domain.Subscription, error) {
	sub := b.rdb.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch := make(chan []byte, subscriptionBufferSize)

	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				default:
					metrics.BusDroppedTotal.Inc()
					slog.Warn("Dropping bus message for slow subscriber", "topic", topic)
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{sub: sub, ch: ch, cancel: cancel}, nil
}

// Subscription is an active Pub/Sub subscription to one topic.
type Subscription struct {
	sub       *goredis.PubSub
	ch        <-chan []byte
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func (s *Subscription) Messages() <-chan []byte {
	return s.ch
}

// Close unsubscribes. Messages is closed shortly after.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.sub.Close()
	})
	return s.closeErr
}
