package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
)

func entryInput(i int, published time.Time) database.EntryInput {
	return database.EntryInput{
		GUID:        fmt.Sprintf("g%d", i),
		Title:       fmt.Sprintf("Entry %d", i),
		PublishedAt: &published,
	}
}

func TestRetentionSweepAppliesCapAndAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := store.createSource(t, "https://a.example.com/feed.xml")
	b := store.createSource(t, "https://b.example.com/feed.xml")

	// Source a: four recent entries, cap keeps two.
	for i := 0; i < 4; i++ {
		if _, err := store.entries.UpsertEntry(ctx, a.ID, entryInput(i, t0.Add(-time.Duration(i)*time.Hour)), t0); err != nil {
			t.Fatal(err)
		}
	}
	// Source b: one recent entry and one beyond the age window.
	if _, err := store.entries.UpsertEntry(ctx, b.ID, entryInput(0, t0.Add(-time.Hour)), t0); err != nil {
		t.Fatal(err)
	}
	if _, err := store.entries.UpsertEntry(ctx, b.ID, entryInput(1, t0.Add(-40*24*time.Hour)), t0); err != nil {
		t.Fatal(err)
	}

	indexer := &stubIndexer{}
	sweeper := NewRetentionSweeper(store.entries, indexer, 2, 30*24*time.Hour)
	sweeper.now = func() time.Time { return t0 }

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if result.Capped != 2 {
		t.Errorf("Expected 2 capped entries, got %d", result.Capped)
	}
	if result.Aged != 1 {
		t.Errorf("Expected 1 aged entry, got %d", result.Aged)
	}
	if result.VectorFailures != 0 {
		t.Errorf("Expected no vector failures, got %d", result.VectorFailures)
	}
	if len(indexer.deleted) != 3 {
		t.Errorf("Expected 3 vectors deleted, got %v", indexer.deleted)
	}

	for source, want := range map[int64]int{a.ID: 2, b.ID: 1} {
		count, err := store.entries.CountEntries(ctx, source)
		if err != nil {
			t.Fatal(err)
		}
		if count != want {
			t.Errorf("Source %d: expected %d entries, got %d", source, want, count)
		}
	}
}

func TestRetentionSweepToleratesVectorFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := store.createSource(t, "https://example.com/feed.xml")

	for i := 0; i < 3; i++ {
		if _, err := store.entries.UpsertEntry(ctx, source.ID, entryInput(i, t0.Add(-time.Duration(i)*time.Hour)), t0); err != nil {
			t.Fatal(err)
		}
	}

	indexer := &stubIndexer{deleteErr: errors.New("connection refused")}
	sweeper := NewRetentionSweeper(store.entries, indexer, 1, 90*24*time.Hour)
	sweeper.now = func() time.Time { return t0 }

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Expected vector failures to be non-fatal, got %v", err)
	}
	if result.Capped != 2 || result.VectorFailures != 2 {
		t.Errorf("Expected 2 capped and 2 vector failures, got %+v", result)
	}

	count, err := store.entries.CountEntries(ctx, source.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected entries to be removed regardless, got %d", count)
	}
}
