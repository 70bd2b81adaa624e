package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DeadLetterRepo persists jobs that exhausted their attempts
type DeadLetterRepo struct {
	db *DB
}

func NewDeadLetterRepository(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

func (r *DeadLetterRepo) AddDeadLetter(ctx context.Context, dl DeadLetter) (int64, error) {
	created := dl.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO dead_letters (job_id, source_id, url, payload, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, dl.JobID, dl.SourceID, dl.URL, string(dl.Payload), dl.Attempts, truncateError(dl.LastError), toMillis(created)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add dead letter: %w", err)
	}

	return id, nil
}

// ListDeadLetters returns the newest dead letters first
func (r *DeadLetterRepo) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, source_id, url, payload, attempts, last_error, created_at
		FROM dead_letters
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		letters = append(letters, *dl)
	}

	return letters, rows.Err()
}

// GetDeadLetter returns nil when the dead letter does not exist
func (r *DeadLetterRepo) GetDeadLetter(ctx context.Context, id int64) (*DeadLetter, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_id, source_id, url, payload, attempts, last_error, created_at
		FROM dead_letters WHERE id = ?
	`, id)

	dl, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	return dl, nil
}

func (r *DeadLetterRepo) DeleteDeadLetter(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

func scanDeadLetter(row rowScanner) (*DeadLetter, error) {
	var dl DeadLetter
	var payload string
	var created int64

	if err := row.Scan(&dl.ID, &dl.JobID, &dl.SourceID, &dl.URL, &payload, &dl.Attempts, &dl.LastError, &created); err != nil {
		return nil, err
	}

	dl.Payload = []byte(payload)
	dl.CreatedAt = fromMillis(created)

	return &dl, nil
}
