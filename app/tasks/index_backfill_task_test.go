package tasks

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/lysyi3m/feedhoard/app/feed"
)

func unindexedIDs(t *testing.T, store testStore) []int64 {
	t.Helper()

	entries, err := store.entries.ListUnindexed(context.Background(), 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func TestIndexBackfillerIndexesStoredEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := store.createSource(t, "https://example.com/feed.xml")

	for i := 0; i < 5; i++ {
		if _, err := store.entries.UpsertEntry(ctx, source.ID, entryInput(i, t0), t0); err != nil {
			t.Fatal(err)
		}
	}

	// Entry ids start at 1 in a fresh database.
	indexer := &stubIndexer{failIDs: map[int64]bool{3: true}}
	backfiller := NewIndexBackfiller(store.entries, indexer)
	backfiller.batchSize = 2
	backfiller.now = func() time.Time { return t0 }

	result, err := backfiller.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Indexed != 4 || result.Failed != 1 {
		t.Errorf("Expected 4 indexed and 1 failed, got %+v", result)
	}
	if ids := unindexedIDs(t, store); !slices.Equal(ids, []int64{3}) {
		t.Errorf("Expected only the failed entry to stay unindexed, got %v", ids)
	}

	delete(indexer.failIDs, 3)
	result, err = backfiller.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Indexed != 1 || result.Failed != 0 {
		t.Errorf("Expected the failed entry to be retried, got %+v", result)
	}
	if ids := unindexedIDs(t, store); len(ids) != 0 {
		t.Errorf("Expected nothing left to backfill, got %v", ids)
	}
}

func TestIndexBackfillerRespectsRunLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := store.createSource(t, "https://example.com/feed.xml")

	for i := 0; i < 7; i++ {
		if _, err := store.entries.UpsertEntry(ctx, source.ID, entryInput(i, t0), t0); err != nil {
			t.Fatal(err)
		}
	}

	backfiller := NewIndexBackfiller(store.entries, &stubIndexer{})
	backfiller.batchSize = 2
	backfiller.maxPerRun = 5

	result, err := backfiller.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Indexed != 5 {
		t.Errorf("Expected 5 entries per run, got %+v", result)
	}
	if ids := unindexedIDs(t, store); len(ids) != 2 {
		t.Errorf("Expected 2 entries left for the next run, got %v", ids)
	}
}

func TestIndexBackfillerDisabledIndexer(t *testing.T) {
	store := newTestStore(t)
	source := store.createSource(t, "https://example.com/feed.xml")
	if _, err := store.entries.UpsertEntry(context.Background(), source.ID, entryInput(0, t0), t0); err != nil {
		t.Fatal(err)
	}

	result, err := NewIndexBackfiller(store.entries, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result != (BackfillResult{}) {
		t.Errorf("Expected no work without an indexer, got %+v", result)
	}
	if ids := unindexedIDs(t, store); len(ids) != 1 {
		t.Errorf("Expected the entry to stay unindexed, got %v", ids)
	}
}

func TestIngestMarksIndexedEntriesAndBackfillCatchesUp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := store.createSource(t, "https://example.com/feed.xml")

	items := make([]feed.Item, 3)
	for i := range items {
		items[i] = feed.Item{GUID: fmt.Sprintf("g%d", i), Title: fmt.Sprintf("Post %d", i)}
	}

	// Ingested while semantic indexing was off.
	w := newTestWorker(store, nil, &stubFetcher{results: []feed.FetchResult{success(items...)}}, nil, nil, WorkerConfig{})
	if err := w.Handle(ctx, jobFor(source)); err != nil {
		t.Fatal(err)
	}
	if ids := unindexedIDs(t, store); len(ids) != 3 {
		t.Fatalf("Expected 3 unindexed entries, got %v", ids)
	}

	indexer := &stubIndexer{}
	scheduler := NewScheduler(store.sources, &stubQueue{}, nil, NewIndexBackfiller(store.entries, indexer), time.Hour)
	result := scheduler.RunOnce(ctx)
	if result.Backfill.Indexed != 3 {
		t.Errorf("Expected the scheduler run to backfill 3 entries, got %+v", result.Backfill)
	}

	// A new item ingested with indexing on is marked right away.
	items = append(items, feed.Item{GUID: "g3", Title: "Post 3"})
	w = newTestWorker(store, nil, &stubFetcher{results: []feed.FetchResult{success(items...)}}, indexer, nil, WorkerConfig{})
	if err := w.Handle(ctx, jobFor(store.source(t, source.ID))); err != nil {
		t.Fatal(err)
	}
	if ids := unindexedIDs(t, store); len(ids) != 0 {
		t.Errorf("Expected every entry to be indexed, got %v", ids)
	}
}
