package domain

import "context"

const (
	// NewPollTopic carries the ids of newly created polls.
	NewPollTopic    = "poll:new"
	voteTopicPrefix = "vote:"
)

// VoteTopic is the per-poll topic carrying counts payloads.
func VoteTopic(pollID string) string {
	return voteTopicPrefix + pollID
}

// CountsPublisher publishes post-increment counts and new-poll announcements.
type CountsPublisher interface {
	PublishCounts(ctx context.Context, pollID string, counts Counts) error
	AnnounceNewPoll(ctx context.Context, pollID string) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription delivers raw payloads until closed. Messages is closed once
// the subscription ends.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
