package domain

import "context"

// PollRepository is the durable store of polls.
type PollRepository interface {
	CreatePoll(ctx context.Context, prompt string, choices []string) (*Poll, error)
	GetPoll(ctx context.Context, id string) (*Poll, error)
	// OverwriteCounts replaces total and every choice count in one transaction.
	// Counts only grow: a total below the stored one is not written and yields
	// ErrCountsSuperseded.
	OverwriteCounts(ctx context.Context, id string, total int64, counts []int64) error
}

// CounterCache is the shared hot cache of poll metadata and counts.
type CounterCache interface {
	Populate(ctx context.Context, poll *Poll) error
	Read(ctx context.Context, id string) (*Poll, error)
	ReadRaw(ctx context.Context, id string) (Counts, error)
	Increment(ctx context.Context, id string, position int) (Counts, error)
}

// PendingWrites is the coalescing queue of polls with unflushed increments.
type PendingWrites interface {
	MarkDirty(ctx context.Context, id string, increments int64) error
	// PopDirtiest blocks until a poll is pending or ctx is done.
	PopDirtiest(ctx context.Context) (string, error)
	// PopDirtiestNow returns ok=false when nothing is pending.
	PopDirtiestNow(ctx context.Context) (id string, ok bool, err error)
}
