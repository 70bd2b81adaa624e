package vector

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgIndexUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock, 3)
	vec := []float32{0.1, 0.2, 0.3}

	mock.ExpectExec(`INSERT INTO entry_vectors`).
		WithArgs(int64(42), pgvector.NewVector(vec)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, index.Upsert(context.Background(), 42, vec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIndexUpsertRejectsWrongDimensions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock, 3)

	err = index.Upsert(context.Background(), 1, []float32{0.1, 0.2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIndexSearch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock, 2)
	vec := []float32{1, 0}

	mock.ExpectQuery(`SELECT entry_id, 1 - \(embedding <=> \$1\) AS similarity`).
		WithArgs(pgvector.NewVector(vec), 5).
		WillReturnRows(pgxmock.NewRows([]string{"entry_id", "similarity"}).
			AddRow(int64(7), 0.92).
			AddRow(int64(3), 0.41))

	matches, err := index.Search(context.Background(), vec, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, Match{EntryID: 7, Similarity: 0.92}, matches[0])
	assert.Equal(t, Match{EntryID: 3, Similarity: 0.41}, matches[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIndexSearchError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock, 2)

	mock.ExpectQuery(`SELECT entry_id`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	_, err = index.Search(context.Background(), []float32{1, 0}, 5)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIndexDeleteChunks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock, 2)

	ids := make([]int64, deleteChunkSize+3)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	mock.ExpectExec(`DELETE FROM entry_vectors WHERE entry_id = ANY\(\$1\)`).
		WithArgs(ids[:deleteChunkSize]).
		WillReturnResult(pgxmock.NewResult("DELETE", deleteChunkSize))
	mock.ExpectExec(`DELETE FROM entry_vectors WHERE entry_id = ANY\(\$1\)`).
		WithArgs(ids[deleteChunkSize:]).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, index.Delete(context.Background(), ids))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIndexEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock, 1536)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS entry_vectors`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS entry_vectors_embedding_idx`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, index.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
