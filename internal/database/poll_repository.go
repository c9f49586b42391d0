package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/pollpulse/internal/domain"
)

// PollRepo implements domain.PollRepository backed by PostgreSQL.
type PollRepo struct {
	pool *pgxpool.Pool
}

var _ domain.PollRepository = (*PollRepo)(nil)

func NewPollRepo(pool *pgxpool.Pool) *PollRepo {
	return &PollRepo{pool: pool}
}

// newPoll builds a fresh poll with zero counts. CreatedAt is truncated to
// milliseconds, the precision the counter cache keeps.
func newPoll(prompt string, choices []string) *domain.Poll {
	poll := &domain.Poll{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Choices:   make([]domain.Choice, len(choices)),
	}
	for i, text := range choices {
		poll.Choices[i] = domain.Choice{Text: text}
	}
	return poll
}

func (r *PollRepo) CreatePoll(ctx context.Context, prompt string, choices []string) (*domain.Poll, error) {
	poll := newPoll(prompt, choices)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO polls (id, prompt, total, created_at) VALUES ($1, $2, 0, $3)`,
		poll.ID, poll.Prompt, poll.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert poll: %w", err)
	}

	rows := make([][]any, len(choices))
	for i, text := range choices {
		rows[i] = []any{poll.ID, int32(i), text, int64(0)}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"poll_choices"},
		[]string{"poll_id", "position", "text", "count"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to insert choices: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return poll, nil
}

func (r *PollRepo) GetPoll(ctx context.Context, id string) (*domain.Poll, error) {
	poll := &domain.Poll{ID: id}
	err := r.pool.QueryRow(ctx,
		`SELECT prompt, total, created_at FROM polls WHERE id = $1`, id,
	).Scan(&poll.Prompt, &poll.Total, &poll.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}
	poll.CreatedAt = poll.CreatedAt.UTC()

	rows, err := r.pool.Query(ctx,
		`SELECT text, count FROM poll_choices WHERE poll_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get choices: %w", err)
	}
	poll.Choices, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Choice, error) {
		var c domain.Choice
		err := row.Scan(&c.Text, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan choices: %w", err)
	}

	return poll, nil
}

// OverwriteCounts replaces the total and every choice count of a poll. The
// number of counts must match the number of choices. A total lower than the
// stored one leaves the poll untouched and returns domain.ErrCountsSuperseded.
func (r *PollRepo) OverwriteCounts(ctx context.Context, id string, total int64, counts []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE polls SET total = $2 WHERE id = $1 AND total <= $2`, id, total)
	if err != nil {
		return fmt.Errorf("failed to update total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM polls WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to look up poll: %w", err)
		}
		if !exists {
			return domain.ErrPollNotFound
		}
		return fmt.Errorf("%w: poll %s holds more than %d votes", domain.ErrCountsSuperseded, id, total)
	}

	positions := make([]int32, len(counts))
	for i := range counts {
		positions[i] = int32(i)
	}
	tag, err = tx.Exec(ctx, `
		UPDATE poll_choices AS pc
		SET count = u.count
		FROM unnest($2::integer[], $3::bigint[]) AS u(position, count)
		WHERE pc.poll_id = $1 AND pc.position = u.position`,
		id, positions, counts)
	if err != nil {
		return fmt.Errorf("failed to update choice counts: %w", err)
	}

	var choices int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM poll_choices WHERE poll_id = $1`, id).Scan(&choices); err != nil {
		return fmt.Errorf("failed to count choices: %w", err)
	}
	if tag.RowsAffected() != choices || int64(len(counts)) != choices {
		return countsMismatch(id, choices, len(counts))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PollRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func countsMismatch(id string, choices int64, counts int) error {
	return fmt.Errorf("%w: poll %s has %d choices, got %d counts", domain.ErrInvalidPoll, id, choices, counts)
}
