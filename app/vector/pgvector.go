package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

var _ Index = (*PgIndex)(nil)

const deleteChunkSize = 500

// pool is the subset of *pgxpool.Pool the index needs.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgIndex stores one vector per entry in PostgreSQL with pgvector and ranks
// by cosine distance.
type PgIndex struct {
	pool       pool
	dimensions int
}

// NewPool connects to dsn with pgvector types registered on every connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping vector db: %w", err)
	}

	return p, nil
}

func NewPgIndex(p pool, dimensions int) *PgIndex {
	return &PgIndex{pool: p, dimensions: dimensions}
}

func (i *PgIndex) Dimensions() int {
	return i.dimensions
}

// EnsureSchema creates the extension, table and HNSW index if missing.
func (i *PgIndex) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entry_vectors (
			entry_id   BIGINT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, i.dimensions),
		`CREATE INDEX IF NOT EXISTS entry_vectors_embedding_idx ON entry_vectors USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range statements {
		if _, err := i.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare vector schema: %w", err)
		}
	}

	return nil
}

func (i *PgIndex) Upsert(ctx context.Context, entryID int64, embedding []float32) error {
	if len(embedding) != i.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), i.dimensions)
	}

	_, err := i.pool.Exec(ctx, `
		INSERT INTO entry_vectors (entry_id, embedding, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (entry_id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()
	`, entryID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to upsert vector for entry %d: %w", entryID, err)
	}

	return nil
}

func (i *PgIndex) Search(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	if len(embedding) != i.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), i.dimensions)
	}

	rows, err := i.pool.Query(ctx, `
		SELECT entry_id, 1 - (embedding <=> $1) AS similarity
		FROM entry_vectors
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.EntryID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan vector match: %w", err)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vector matches: %w", err)
	}

	return matches, nil
}

// Delete removes the vectors of entryIDs; missing ids are ignored.
func (i *PgIndex) Delete(ctx context.Context, entryIDs []int64) error {
	for start := 0; start < len(entryIDs); start += deleteChunkSize {
		chunk := entryIDs[start:min(start+deleteChunkSize, len(entryIDs))]

		if _, err := i.pool.Exec(ctx, `DELETE FROM entry_vectors WHERE entry_id = ANY($1)`, chunk); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}

	return nil
}
