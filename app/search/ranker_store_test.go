package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/feedhoard/app/database"
)

func newEntryRepo(t *testing.T, titles ...string) *database.EntryRepo {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	ctx := context.Background()
	source, err := database.NewSourceRepository(db).CreateSource(ctx, "https://example.com/feed.xml", "Example")
	require.NoError(t, err)

	entries := database.NewEntryRepository(db)
	for i, title := range titles {
		published := base.Add(-time.Duration(i) * time.Hour)
		_, err := entries.UpsertEntry(ctx, source.ID, database.EntryInput{
			GUID:        fmt.Sprintf("g%d", i),
			Title:       title,
			Content:     "<p>" + title + " body</p>",
			PublishedAt: &published,
		}, base)
		require.NoError(t, err)
	}

	return entries
}

func TestSearchAgainstStoreLiteralOnly(t *testing.T) {
	entries := newEntryRepo(t, "Go Generics", "ÜBER Café", "Weekly digest")
	r := NewRanker(entries, nil, nil, testOptions())

	tests := []struct {
		query string
		title string
	}{
		{"Go Generics", "Go Generics"},
		{"go  generics", "Go Generics"},
		{"GO\tGENERICS", "Go Generics"},
		{"über café", "ÜBER Café"},
		{"ÜBER   CAFÉ", "ÜBER Café"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := r.Search(context.Background(), tt.query, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"semantic"}, resp.Degraded)

			require.Len(t, resp.Results, 1)
			assert.Equal(t, tt.title, resp.Results[0].Entry.Title)
			assert.Equal(t, TierExactTitle, resp.Results[0].Tier)
			assert.Equal(t, 1.0, resp.Results[0].Score)
		})
	}
}

func TestSearchAgainstStoreMatchesContent(t *testing.T) {
	entries := newEntryRepo(t, "Go Generics", "Release notes")
	r := NewRanker(entries, nil, nil, testOptions())

	resp, err := r.Search(context.Background(), "RELEASE   notes BODY", 10)
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Release notes", resp.Results[0].Entry.Title)
	assert.Equal(t, TierTitleMatch, resp.Results[0].Tier)
}
