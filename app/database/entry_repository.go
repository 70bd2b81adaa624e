package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/feedhoard/app/textnorm"
)

const entryColumns = `id, source_id, guid, url, title, author, content, summary,
	published_at, first_seen_at, updated_at`

// SQLite caps bound parameters per statement; lookups by id are chunked.
const idChunkSize = 500

// EntryRepo handles database operations for entries
type EntryRepo struct {
	db *DB
}

// NewEntryRepository creates a new entry repository
func NewEntryRepository(db *DB) *EntryRepo {
	return &EntryRepo{db: db}
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var published sql.NullInt64
	var firstSeen, updated int64

	err := row.Scan(
		&e.ID, &e.SourceID, &e.GUID, &e.URL, &e.Title, &e.Author, &e.Content, &e.Summary,
		&published, &firstSeen, &updated,
	)
	if err != nil {
		return nil, err
	}

	e.PublishedAt = timePtr(published)
	e.FirstSeenAt = fromMillis(firstSeen)
	e.UpdatedAt = fromMillis(updated)

	return &e, nil
}

// UpsertEntry stores the item keyed by (source, guid). A row is only written
// when a field actually differs; first_seen_at never moves, a missing
// publication date never overwrites a known one and empty incoming content
// keeps the stored (possibly extracted) content.
func (r *EntryRepo) UpsertEntry(ctx context.Context, sourceID int64, in EntryInput, at time.Time) (UpsertResult, error) {
	now := toMillis(at)

	var id, firstSeen int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO entries (source_id, guid, url, title, author, content, summary,
			search_title, search_content, published_at, first_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, guid) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			author = excluded.author,
			content = CASE WHEN excluded.content = '' THEN entries.content ELSE excluded.content END,
			summary = excluded.summary,
			search_title = excluded.search_title,
			search_content = CASE WHEN excluded.content = '' THEN entries.search_content ELSE excluded.search_content END,
			published_at = COALESCE(excluded.published_at, entries.published_at),
			updated_at = excluded.updated_at,
			indexed_at = NULL
		WHERE entries.url IS NOT excluded.url
		   OR entries.title IS NOT excluded.title
		   OR entries.author IS NOT excluded.author
		   OR (excluded.content != '' AND entries.content IS NOT excluded.content)
		   OR entries.summary IS NOT excluded.summary
		   OR (excluded.published_at IS NOT NULL AND entries.published_at IS NOT excluded.published_at)
		RETURNING id, first_seen_at
	`, sourceID, in.GUID, in.URL, in.Title, in.Author, in.Content, in.Summary,
		textnorm.Normalize(in.Title), textnorm.Normalize(in.Content),
		nullMillis(in.PublishedAt), now, now).Scan(&id, &firstSeen)

	if errors.Is(err, sql.ErrNoRows) {
		return UpsertResult{Status: UpsertUnchanged}, nil
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to upsert entry %q: %w", in.GUID, err)
	}

	if firstSeen == now {
		return UpsertResult{EntryID: id, Status: UpsertInserted}, nil
	}
	return UpsertResult{EntryID: id, Status: UpsertUpdated}, nil
}

// UpdateEntryContent replaces the content of an entry, used after article
// extraction.
func (r *EntryRepo) UpdateEntryContent(ctx context.Context, id int64, content string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE entries SET content = ?, search_content = ?, updated_at = ?, indexed_at = NULL WHERE id = ?
	`, content, textnorm.Normalize(content), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to update entry content: %w", err)
	}
	return nil
}

// GetEntry returns nil when the entry does not exist
func (r *EntryRepo) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return entry, nil
}

// GetEntriesByIDs loads the entries that still exist; missing ids are skipped.
func (r *EntryRepo) GetEntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error) {
	var entries []Entry

	for start := 0; start < len(ids); start += idChunkSize {
		chunk := ids[start:min(start+idChunkSize, len(ids))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		found, err := r.list(ctx, `SELECT `+entryColumns+` FROM entries WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}

	return entries, nil
}

// SearchLiteral finds entries whose title or content contains query, newest
// first. Both sides are compared after textnorm.Normalize, so case (beyond
// ASCII) and runs of whitespace do not matter.
func (r *EntryRepo) SearchLiteral(ctx context.Context, query string, limit int) ([]Entry, error) {
	q := textnorm.Normalize(query)
	if q == "" {
		return nil, nil
	}

	return r.list(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE instr(search_title, ?) > 0 OR instr(search_content, ?) > 0
		ORDER BY COALESCE(published_at, first_seen_at) DESC, id DESC
		LIMIT ?
	`, q, q, limit)
}

// MarkIndexed records that the vectors of ids match their current text.
func (r *EntryRepo) MarkIndexed(ctx context.Context, ids []int64, at time.Time) error {
	for start := 0; start < len(ids); start += idChunkSize {
		chunk := ids[start:min(start+idChunkSize, len(ids))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, toMillis(at))
		for _, id := range chunk {
			args = append(args, id)
		}

		_, err := r.db.ExecContext(ctx, `UPDATE entries SET indexed_at = ? WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return fmt.Errorf("failed to mark entries indexed: %w", err)
		}
	}
	return nil
}

// ListUnindexed returns up to limit entries with an id above afterID whose
// text has no current vector, in id order.
func (r *EntryRepo) ListUnindexed(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	return r.list(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE indexed_at IS NULL AND id > ?
		ORDER BY id
		LIMIT ?
	`, afterID, limit)
}

func (r *EntryRepo) CountEntries(ctx context.Context, sourceID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE source_id = ?`, sourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// DeleteEntriesBeyondCap keeps the newest maxPerSource entries of every source
// and returns the ids it removed.
func (r *EntryRepo) DeleteEntriesBeyondCap(ctx context.Context, maxPerSource int) ([]int64, error) {
	ids, err := collectIDs(r.db.QueryContext(ctx, `
		WITH ranked AS (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY source_id
				ORDER BY COALESCE(published_at, first_seen_at) DESC, id DESC
			) AS rn
			FROM entries
		)
		DELETE FROM entries
		WHERE id IN (SELECT id FROM ranked WHERE rn > ?)
		RETURNING id
	`, maxPerSource))
	if err != nil {
		return nil, fmt.Errorf("failed to delete entries beyond cap: %w", err)
	}
	return ids, nil
}

// DeleteEntriesOlderThan removes entries whose recency is before cutoff
func (r *EntryRepo) DeleteEntriesOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error) {
	ids, err := collectIDs(r.db.QueryContext(ctx, `
		DELETE FROM entries
		WHERE COALESCE(published_at, first_seen_at) < ?
		RETURNING id
	`, toMillis(cutoff)))
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return ids, nil
}

func (r *EntryRepo) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entry rows: %w", err)
	}

	return entries, nil
}
