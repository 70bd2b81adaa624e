package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/textnorm"
	"github.com/lysyi3m/feedhoard/app/vector"
)

type fakeStore struct {
	entries    map[int64]database.Entry
	literalErr error
}

func newFakeStore(entries ...database.Entry) *fakeStore {
	s := &fakeStore{entries: make(map[int64]database.Entry)}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *fakeStore) GetEntriesByIDs(_ context.Context, ids []int64) ([]database.Entry, error) {
	var out []database.Entry
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) SearchLiteral(_ context.Context, query string, limit int) ([]database.Entry, error) {
	if s.literalErr != nil {
		return nil, s.literalErr
	}
	q := textnorm.Normalize(query)
	var out []database.Entry
	for _, e := range s.entries {
		if strings.Contains(textnorm.Normalize(e.Title), q) || strings.Contains(textnorm.Normalize(e.Content), q) {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeIndex struct {
	matches []vector.Match
	err     error
}

func (f *fakeIndex) Upsert(context.Context, int64, []float32) error { return nil }

func (f *fakeIndex) Search(_ context.Context, _ []float32, topK int) ([]vector.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func (f *fakeIndex) Delete(context.Context, []int64) error { return nil }

func (f *fakeIndex) Dimensions() int { return 3 }

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id int64, title, content string, age time.Duration) database.Entry {
	published := base.Add(-age)
	return database.Entry{
		ID:          id,
		SourceID:    1,
		GUID:        title,
		Title:       title,
		Content:     content,
		PublishedAt: &published,
		FirstSeenAt: base,
	}
}

func testOptions() Options {
	return Options{TopK: 50, MinSimilarity: 0.3, MaxQueryLength: 100, LiteralLimit: 200}
}

func ids(results []Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.Entry.ID
	}
	return out
}

func TestSearchValidation(t *testing.T) {
	r := NewRanker(newFakeStore(), nil, nil, testOptions())

	_, err := r.Search(context.Background(), "   ", 10)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = r.Search(context.Background(), strings.Repeat("é", 101), 10)
	assert.ErrorIs(t, err, ErrQueryTooLong)

	_, err = r.Search(context.Background(), strings.Repeat("é", 100), 10)
	assert.NoError(t, err)
}

func TestSearchTiers(t *testing.T) {
	store := newFakeStore(
		entry(1, "Go Generics", "an introduction", 48*time.Hour),
		entry(2, "Understanding Go Generics in Depth", "long read", time.Hour),
		entry(3, "Type parameters explained", "about generics", 2*time.Hour),
		entry(4, "Weekly digest", "mentions go generics once", 3*time.Hour),
		entry(5, "Something else", "unrelated", 0),
	)
	index := &fakeIndex{matches: []vector.Match{
		{EntryID: 3, Similarity: 0.82},
		{EntryID: 2, Similarity: 0.80},
		{EntryID: 5, Similarity: 0.10},
		{EntryID: 99, Similarity: 0.90},
	}}

	r := NewRanker(store, &fakeEmbedder{}, index, testOptions())

	resp, err := r.Search(context.Background(), "  go   GENERICS ", 10)
	require.NoError(t, err)
	assert.Empty(t, resp.Degraded)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(resp.Results))

	assert.Equal(t, TierExactTitle, resp.Results[0].Tier)
	assert.Equal(t, 1.0, resp.Results[0].Score)

	assert.Equal(t, TierTitleMatch, resp.Results[1].Tier)
	assert.Equal(t, 0.95, resp.Results[1].Score)

	assert.Equal(t, TierSemantic, resp.Results[2].Tier)
	assert.InDelta(t, 0.82, resp.Results[2].Score, 1e-9)
	require.NotNil(t, resp.Results[2].Similarity)

	assert.Equal(t, TierLiteral, resp.Results[3].Tier)
	assert.Equal(t, 0.5, resp.Results[3].Score)
}

func TestSearchOrdersWithinTiers(t *testing.T) {
	store := newFakeStore(
		entry(1, "Old note", "rust", 72*time.Hour),
		entry(2, "New note", "rust", time.Hour),
		entry(3, "Mid note", "rust", 24*time.Hour),
	)
	index := &fakeIndex{matches: []vector.Match{
		{EntryID: 10, Similarity: 0.99},
	}}
	store.entries[10] = entry(10, "Closest", "memory safety", 100*time.Hour)
	store.entries[11] = entry(11, "Close", "borrow checker", time.Minute)
	index.matches = append(index.matches, vector.Match{EntryID: 11, Similarity: 0.5})

	r := NewRanker(store, &fakeEmbedder{}, index, testOptions())

	resp, err := r.Search(context.Background(), "rust", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 2, 3, 1}, ids(resp.Results))
}

func TestSearchNoDuplicates(t *testing.T) {
	store := newFakeStore(entry(1, "Kubernetes operators", "kubernetes", time.Hour))
	index := &fakeIndex{matches: []vector.Match{{EntryID: 1, Similarity: 0.7}}}

	r := NewRanker(store, &fakeEmbedder{}, index, testOptions())

	resp, err := r.Search(context.Background(), "kubernetes", 10)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, TierTitleMatch, resp.Results[0].Tier)
	require.NotNil(t, resp.Results[0].Similarity)
	assert.InDelta(t, 0.7, *resp.Results[0].Similarity, 1e-9)
}

func TestSearchLimit(t *testing.T) {
	store := newFakeStore()
	for i := int64(1); i <= 150; i++ {
		store.entries[i] = entry(i, "post", "matching body", time.Duration(i)*time.Minute)
	}

	r := NewRanker(store, nil, nil, testOptions())

	resp, err := r.Search(context.Background(), "matching", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(resp.Results))

	resp, err = r.Search(context.Background(), "matching", 0)
	require.NoError(t, err)
	assert.Len(t, resp.Results, DefaultLimit)

	resp, err = r.Search(context.Background(), "matching", 1000)
	require.NoError(t, err)
	assert.Len(t, resp.Results, MaxLimit)
}

func TestSearchVectorOutage(t *testing.T) {
	store := newFakeStore(entry(1, "Postgres tuning", "vacuum settings", time.Hour))
	index := &fakeIndex{err: errors.New("connection refused")}

	r := NewRanker(store, &fakeEmbedder{}, index, testOptions())

	resp, err := r.Search(context.Background(), "vacuum", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"semantic"}, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, TierLiteral, resp.Results[0].Tier)
}

func TestSearchWithoutSemanticConfigured(t *testing.T) {
	store := newFakeStore(entry(1, "Vacuum", "vacuum settings", time.Hour))

	r := NewRanker(store, nil, nil, testOptions())

	resp, err := r.Search(context.Background(), "vacuum", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"semantic"}, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, TierExactTitle, resp.Results[0].Tier)
}

func TestSearchLiteralOutage(t *testing.T) {
	store := newFakeStore(entry(1, "Caching strategies", "lru", time.Hour))
	store.literalErr = errors.New("database is locked")
	index := &fakeIndex{matches: []vector.Match{{EntryID: 1, Similarity: 0.6}}}

	r := NewRanker(store, &fakeEmbedder{}, index, testOptions())

	resp, err := r.Search(context.Background(), "cache eviction", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"literal"}, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, TierSemantic, resp.Results[0].Tier)
}

func TestSearchBothPathsFail(t *testing.T) {
	store := newFakeStore()
	store.literalErr = errors.New("database is locked")

	r := NewRanker(store, &fakeEmbedder{err: errors.New("timeout")}, &fakeIndex{}, testOptions())

	_, err := r.Search(context.Background(), "anything", 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}
