package polls

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pscheid92/pollpulse/internal/domain"
)

const (
	MinChoices      = 2
	MaxChoices      = 32
	MaxPromptLength = 500
	MaxChoiceLength = 200
)

// normalize trims prompt and choices and checks them against the poll limits.
func normalize(prompt string, choices []string) (string, []string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidPoll)
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return "", nil, fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrInvalidPoll, MaxPromptLength)
	}
	if len(choices) < MinChoices || len(choices) > MaxChoices {
		return "", nil, fmt.Errorf("%w: need between %d and %d choices, got %d", domain.ErrInvalidPoll, MinChoices, MaxChoices, len(choices))
	}

	out := make([]string, len(choices))
	for i, c := range choices {
		c = strings.TrimSpace(c)
		if c == "" {
			return "", nil, fmt.Errorf("%w: choice %d is empty", domain.ErrInvalidPoll, i)
		}
		if utf8.RuneCountInString(c) > MaxChoiceLength {
			return "", nil, fmt.Errorf("%w: choice %d exceeds %d characters", domain.ErrInvalidPoll, i, MaxChoiceLength)
		}
		out[i] = c
	}
	return prompt, out, nil
}
