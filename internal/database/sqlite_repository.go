package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/pscheid92/pollpulse/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS polls (
    id         TEXT PRIMARY KEY,
    prompt     TEXT NOT NULL,
    total      INTEGER NOT NULL DEFAULT 0 CHECK (total >= 0),
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS poll_choices (
    poll_id  TEXT NOT NULL REFERENCES polls (id) ON DELETE CASCADE,
    position INTEGER NOT NULL CHECK (position >= 0),
    text     TEXT NOT NULL,
    count    INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
    PRIMARY KEY (poll_id, position)
);`

// OpenSQLite opens (creating if needed) the SQLite database at path and
// applies the schema. created_at is stored as unix milliseconds.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	slog.Info("SQLite database opened", "path", path)
	return db, nil
}

// SQLitePollRepo implements domain.PollRepository on SQLite.
type SQLitePollRepo struct {
	db *sql.DB
}

var _ domain.PollRepository = (*SQLitePollRepo)(nil)

func NewSQLitePollRepo(db *sql.DB) *SQLitePollRepo {
	return &SQLitePollRepo{db: db}
}

func (r *SQLitePollRepo) CreatePoll(ctx context.Context, prompt string, choices []string) (*domain.Poll, error) {
	start := time.Now()
	poll, err := r.createPoll(ctx, prompt, choices)
	observeQuery("insert polls", start, err)
	return poll, err
}

func (r *SQLitePollRepo) createPoll(ctx context.Context, prompt string, choices []string) (*domain.Poll, error) {
	poll := newPoll(prompt, choices)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO polls (id, prompt, total, created_at) VALUES (?, ?, 0, ?)`,
		poll.ID, poll.Prompt, poll.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert poll: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO poll_choices (poll_id, position, text, count) VALUES (?, ?, ?, 0)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare choice insert: %w", err)
	}
	defer stmt.Close()

	for i, text := range choices {
		if _, err := stmt.ExecContext(ctx, poll.ID, i, text); err != nil {
			return nil, fmt.Errorf("failed to insert choice %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return poll, nil
}

func (r *SQLitePollRepo) GetPoll(ctx context.Context, id string) (*domain.Poll, error) {
	start := time.Now()
	poll, err := r.getPoll(ctx, id)
	if errors.Is(err, domain.ErrPollNotFound) {
		observeQuery("select polls", start, nil)
	} else {
		observeQuery("select polls", start, err)
	}
	return poll, err
}

func (r *SQLitePollRepo) getPoll(ctx context.Context, id string) (*domain.Poll, error) {
	poll := &domain.Poll{ID: id}
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT prompt, total, created_at FROM polls WHERE id = ?`, id,
	).Scan(&poll.Prompt, &poll.Total, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}
	poll.CreatedAt = time.UnixMilli(createdAt).UTC()

	rows, err := r.db.QueryContext(ctx,
		`SELECT text, count FROM poll_choices WHERE poll_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get choices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Choice
		if err := rows.Scan(&c.Text, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan choice: %w", err)
		}
		poll.Choices = append(poll.Choices, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read choices: %w", err)
	}
	return poll, nil
}

func (r *SQLitePollRepo) OverwriteCounts(ctx context.Context, id string, total int64, counts []int64) error {
	start := time.Now()
	err := r.overwriteCounts(ctx, id, total, counts)
	observeQuery("update poll_choices", start, err)
	return err
}

func (r *SQLitePollRepo) overwriteCounts(ctx context.Context, id string, total int64, counts []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE polls SET total = ? WHERE id = ? AND total <= ?`, total, id, total)
	if err != nil {
		return fmt.Errorf("failed to update total: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update total: %w", err)
	} else if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM polls WHERE id = ?)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to look up poll: %w", err)
		}
		if !exists {
			return domain.ErrPollNotFound
		}
		return fmt.Errorf("%w: poll %s holds more than %d votes", domain.ErrCountsSuperseded, id, total)
	}

	var choices int64
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM poll_choices WHERE poll_id = ?`, id).Scan(&choices); err != nil {
		return fmt.Errorf("failed to count choices: %w", err)
	}
	if int64(len(counts)) != choices {
		return countsMismatch(id, choices, len(counts))
	}

	for i, n := range counts {
		_, err := tx.ExecContext(ctx,
			`UPDATE poll_choices SET count = ? WHERE poll_id = ? AND position = ?`, n, id, i)
		if err != nil {
			return fmt.Errorf("failed to update choice %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLitePollRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
