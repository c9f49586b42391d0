package domain

import "errors"

var (
	ErrPollNotFound     = errors.New("poll not found")
	ErrChoiceOutOfRange = errors.New("choice out of range")
	ErrCacheMiss        = errors.New("poll not cached")
	ErrInvalidPoll      = errors.New("invalid poll")
	// ErrCountsSuperseded means the durable store already holds a larger
	// total than the counts being written.
	ErrCountsSuperseded = errors.New("counts superseded")
)
