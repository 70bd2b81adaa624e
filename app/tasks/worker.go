package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/queue"
)

type WorkerConfig struct {
	FailureThreshold int
	RetentionMaxAge  time.Duration
	ExtractContent   bool
}

// Worker consumes ingestion jobs. It holds no per-job state; everything a
// job needs is loaded from the store when it runs.
type Worker struct {
	sources   database.SourceRepository
	entries   database.EntryRepository
	fetcher   FeedFetcher
	extractor ContentExtractor
	indexer   EntryIndexer
	cfg       WorkerConfig
	now       func() time.Time
}

// NewWorker builds the job handler. extractor may be nil, in which case
// content extraction is skipped regardless of cfg.
func NewWorker(sources database.SourceRepository, entries database.EntryRepository, fetcher FeedFetcher,
	extractor ContentExtractor, indexer EntryIndexer, cfg WorkerConfig) *Worker {
	return &Worker{
		sources:   sources,
		entries:   entries,
		fetcher:   fetcher,
		extractor: extractor,
		indexer:   indexer,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle is a queue.Handler.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	task := NewIngestSourceTask(job, w)
	task.Start()
	return task.Execute(ctx)
}
