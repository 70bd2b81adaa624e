package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/feed"
	"github.com/lysyi3m/feedhoard/app/index"
	"github.com/lysyi3m/feedhoard/app/queue"
)

type testStore struct {
	sources *database.SourceRepo
	entries *database.EntryRepo
}

func newTestStore(t *testing.T) testStore {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return testStore{
		sources: database.NewSourceRepository(db),
		entries: database.NewEntryRepository(db),
	}
}

func (s testStore) createSource(t *testing.T, url string) *database.Source {
	t.Helper()

	source, err := s.sources.CreateSource(context.Background(), url, "Test")
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	return source
}

func (s testStore) source(t *testing.T, id int64) *database.Source {
	t.Helper()

	source, err := s.sources.GetSource(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to get source: %v", err)
	}
	return source
}

// stubFetcher replays results in order and repeats the last one.
type stubFetcher struct {
	mu       sync.Mutex
	results  []feed.FetchResult
	requests []feed.FetchRequest
}

func (f *stubFetcher) Fetch(_ context.Context, req feed.FetchRequest) feed.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	n := len(f.requests) - 1
	if n >= len(f.results) {
		n = len(f.results) - 1
	}
	return f.results[n]
}

func (f *stubFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type stubIndexer struct {
	mu        sync.Mutex
	indexed   []int64
	deleted   []int64
	failIDs   map[int64]bool
	deleteErr error
}

func (s *stubIndexer) Enabled() bool { return true }

func (s *stubIndexer) IndexBatch(_ context.Context, entries []database.Entry) index.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := index.BatchResult{Failed: make(map[int64]error)}
	for _, e := range entries {
		if s.failIDs[e.ID] {
			result.Failed[e.ID] = errors.New("embedding service unavailable")
			continue
		}
		s.indexed = append(s.indexed, e.ID)
		result.Indexed++
	}
	return result
}

func (s *stubIndexer) Delete(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, ids...)
	return nil
}

type stubExtractor struct {
	content string
	err     error
	urls    []string
}

func (s *stubExtractor) Extract(_ context.Context, pageURL string) (string, error) {
	s.urls = append(s.urls, pageURL)
	return s.content, s.err
}

type stubQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	fail map[int64]bool
}

func (q *stubQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.fail[job.SourceID] {
		return errors.New("queue unavailable")
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) sourceIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]int64, len(q.jobs))
	for i, job := range q.jobs {
		ids[i] = job.SourceID
	}
	return ids
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func timeRef(t time.Time) *time.Time {
	return &t
}
