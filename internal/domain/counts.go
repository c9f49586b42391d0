package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	TotalField        = "total"
	choiceFieldPrefix = "choice:"
)

// ChoiceField names the counts field holding the votes of the choice at position i.
func ChoiceField(i int) string {
	return choiceFieldPrefix + strconv.Itoa(i)
}

// ParseChoiceField is the inverse of ChoiceField.
func ParseChoiceField(field string) (int, bool) {
	rest, ok := strings.CutPrefix(field, choiceFieldPrefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Counts is the raw counts record of a poll: "total" plus one "choice:<i>"
// entry per choice. It marshals to the fanout wire payload.
type Counts map[string]int64

func (c Counts) Total() int64 {
	return c[TotalField]
}

func (c Counts) Choice(i int) (int64, bool) {
	n, ok := c[ChoiceField(i)]
	return n, ok
}

// Positions returns the choice counts ordered by position. Positions must be
// contiguous from zero.
func (c Counts) Positions() ([]int64, error) {
	idx := make([]int, 0, len(c))
	for field := range c {
		if field == TotalField {
			continue
		}
		i, ok := ParseChoiceField(field)
		if !ok {
			return nil, fmt.Errorf("unexpected counts field %q", field)
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]int64, len(idx))
	for n, i := range idx {
		if i != n {
			return nil, fmt.Errorf("counts missing position %d", n)
		}
		out[n] = c[ChoiceField(i)]
	}
	return out, nil
}

// Sum adds up the choice counts. Equal to Total whenever the record was
// observed consistently.
func (c Counts) Sum() int64 {
	var sum int64
	for field, n := range c {
		if field != TotalField {
			sum += n
		}
	}
	return sum
}

// ParseCounts converts a Redis hash reply into Counts.
func ParseCounts(fields map[string]string) (Counts, error) {
	c := make(Counts, len(fields))
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse counts field %q: %w", field, err)
		}
		c[field] = n
	}
	return c, nil
}
