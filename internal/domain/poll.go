package domain

import "time"

type Choice struct {
	Text  string `json:"text"`
	Count int64  `json:"count"`
}

// Poll is immutable after creation except for its counts. Choices are
// addressed by zero-based position only.
type Poll struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
	Total     int64     `json:"total"`
	Choices   []Choice  `json:"choices"`
}

// Counts returns the flat counts record for the poll.
func (p *Poll) Counts() Counts {
	c := make(Counts, len(p.Choices)+1)
	c[TotalField] = p.Total
	for i, choice := range p.Choices {
		c[ChoiceField(i)] = choice.Count
	}
	return c
}

// WithCounts returns a copy of the poll with total and choice counts taken from c.
// Positions missing from c keep their current count.
func (p *Poll) WithCounts(c Counts) *Poll {
	out := *p
	out.Choices = make([]Choice, len(p.Choices))
	copy(out.Choices, p.Choices)
	out.Total = c.Total()
	for i := range out.Choices {
		if n, ok := c.Choice(i); ok {
			out.Choices[i].Count = n
		}
	}
	return &out
}
