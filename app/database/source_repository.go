package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxErrorLength = 500

const sourceColumns = `id, url, title, etag, last_modified, consecutive_failures, is_active,
	last_fetch_at, last_success_at, COALESCE(last_error, ''), created_at, updated_at`

// SourceRepo handles database operations for sources and their health
type SourceRepo struct {
	db *DB
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

func scanSource(row rowScanner) (*Source, error) {
	var s Source
	var lastFetch, lastSuccess sql.NullInt64
	var created, updated int64

	err := row.Scan(
		&s.ID, &s.URL, &s.Title, &s.ETag, &s.LastModified, &s.ConsecutiveFailures, &s.IsActive,
		&lastFetch, &lastSuccess, &s.LastError, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	s.LastFetchAt = timePtr(lastFetch)
	s.LastSuccessAt = timePtr(lastSuccess)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)

	return &s, nil
}

// CreateSource registers a new active source
func (r *SourceRepo) CreateSource(ctx context.Context, url, title string) (*Source, error) {
	now := toMillis(time.Now())

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sources (url, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		RETURNING `+sourceColumns,
		url, title, now, now)

	source, err := scanSource(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSourceExists
		}
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	return source, nil
}

// SeedSource inserts a source from a seed file or refreshes its title.
// Health and activity of an existing source are left untouched. The boolean
// reports whether the source was created.
func (r *SourceRepo) SeedSource(ctx context.Context, url, title string, active bool) (*Source, bool, error) {
	now := toMillis(time.Now())

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sources (url, title, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (url) DO NOTHING
		RETURNING `+sourceColumns,
		url, title, active, now, now)

	source, err := scanSource(row)
	if err == nil {
		return source, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to seed source: %w", err)
	}

	row = r.db.QueryRowContext(ctx, `
		UPDATE sources
		SET title = CASE WHEN ? != '' THEN ? ELSE title END, updated_at = ?
		WHERE url = ?
		RETURNING `+sourceColumns,
		title, title, now, url)

	source, err = scanSource(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to seed source: %w", err)
	}

	return source, false, nil
}

// GetSource returns the source or ErrSourceNotFound
func (r *SourceRepo) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)

	source, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return source, nil
}

func (r *SourceRepo) ListSources(ctx context.Context) ([]Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
}

// ListActiveSources returns the sources eligible for scheduling
func (r *SourceRepo) ListActiveSources(ctx context.Context) ([]Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE is_active = 1 ORDER BY id`)
}

func (r *SourceRepo) list(ctx context.Context, query string, args ...any) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source rows: %w", err)
	}

	return sources, nil
}

// DeleteSource removes the source and, through the foreign key cascade, its
// entries. It returns the ids of the removed entries so that callers can purge
// derived data.
func (r *SourceRepo) DeleteSource(ctx context.Context, id int64) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := collectIDs(tx.QueryContext(ctx, `SELECT id FROM entries WHERE source_id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to list source entries: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrSourceNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit source deletion: %w", err)
	}

	return ids, nil
}

// RecordSuccess resets the failure counter and stores the new validators
func (r *SourceRepo) RecordSuccess(ctx context.Context, id int64, etag, lastModified string, at time.Time) error {
	ms := toMillis(at)
	return r.exec(ctx, "record success", `
		UPDATE sources
		SET consecutive_failures = 0, last_error = NULL, etag = ?, last_modified = ?,
		    last_fetch_at = ?, last_success_at = ?, updated_at = ?
		WHERE id = ?
	`, etag, lastModified, ms, ms, ms, id)
}

// RecordUnchanged handles a 304 response: the source is healthy but its
// entries and validators stay as they are.
func (r *SourceRepo) RecordUnchanged(ctx context.Context, id int64, at time.Time) error {
	ms := toMillis(at)
	return r.exec(ctx, "record unchanged fetch", `
		UPDATE sources
		SET consecutive_failures = 0, last_error = NULL,
		    last_fetch_at = ?, last_success_at = ?, updated_at = ?
		WHERE id = ?
	`, ms, ms, ms, id)
}

// RecordAttempt only stamps the fetch time, used when the origin asked us to
// back off.
func (r *SourceRepo) RecordAttempt(ctx context.Context, id int64, at time.Time) error {
	ms := toMillis(at)
	return r.exec(ctx, "record fetch attempt", `
		UPDATE sources SET last_fetch_at = ?, updated_at = ? WHERE id = ?
	`, ms, ms, id)
}

// RecordFailure increments the failure counter and deactivates the source once
// threshold is reached, in a single statement so concurrent workers cannot lose
// an increment.
func (r *SourceRepo) RecordFailure(ctx context.Context, id int64, reason string, threshold int, at time.Time) (*FailureResult, error) {
	ms := toMillis(at)

	var result FailureResult
	err := r.db.QueryRowContext(ctx, `
		UPDATE sources
		SET consecutive_failures = consecutive_failures + 1,
		    is_active = CASE WHEN consecutive_failures + 1 >= ? THEN 0 ELSE is_active END,
		    last_error = ?, last_fetch_at = ?, updated_at = ?
		WHERE id = ?
		RETURNING consecutive_failures, is_active
	`, threshold, truncateError(reason), ms, ms, id).Scan(&result.ConsecutiveFailures, &result.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}

	return &result, nil
}

// Reactivate makes a deactivated source eligible again with a clean slate
func (r *SourceRepo) Reactivate(ctx context.Context, id int64) error {
	return r.exec(ctx, "reactivate source", `
		UPDATE sources
		SET is_active = 1, consecutive_failures = 0, last_error = NULL, updated_at = ?
		WHERE id = ?
	`, toMillis(time.Now()), id)
}

func (r *SourceRepo) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSourceNotFound
	}

	return nil
}

func truncateError(s string) string {
	if utf8.RuneCountInString(s) <= maxErrorLength {
		return s
	}
	return string([]rune(s)[:maxErrorLength])
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func collectIDs(rows *sql.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
