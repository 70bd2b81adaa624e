package tasks

import (
	"context"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/feed"
	"github.com/lysyi3m/feedhoard/app/index"
	"github.com/lysyi3m/feedhoard/app/queue"
)

// FeedFetcher performs one conditional fetch of a source.
type FeedFetcher interface {
	Fetch(ctx context.Context, req feed.FetchRequest) feed.FetchResult
}

type ContentExtractor interface {
	Extract(ctx context.Context, pageURL string) (string, error)
}

// EntryIndexer keeps the semantic index in step with the entry store.
type EntryIndexer interface {
	Enabled() bool
	IndexBatch(ctx context.Context, entries []database.Entry) index.BatchResult
	Delete(ctx context.Context, entryIDs []int64) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// TaskSchedulerInterface is what the API and main need from the scheduler:
// lifecycle control plus on-demand fan-out.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	RunOnce(ctx context.Context) FanOutResult
	TriggerSource(ctx context.Context, sourceID int64) error
}

var (
	_ FeedFetcher            = (*feed.Fetcher)(nil)
	_ ContentExtractor       = (*feed.ContentExtractor)(nil)
	_ EntryIndexer           = (*index.Indexer)(nil)
	_ JobQueue               = (queue.Queue)(nil)
	_ TaskSchedulerInterface = (*Scheduler)(nil)
)
