package api

import (
	"context"
	"net/url"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/feed"
	"github.com/lysyi3m/feedhoard/app/health"
	"github.com/lysyi3m/feedhoard/app/index"
	"github.com/lysyi3m/feedhoard/app/queue"
	"github.com/lysyi3m/feedhoard/app/search"
	"github.com/lysyi3m/feedhoard/app/tasks"
)

type SearcherInterface interface {
	Search(ctx context.Context, query string, limit int) (*search.Response, error)
}

type URLValidatorInterface interface {
	Validate(ctx context.Context, raw string) (*url.URL, error)
}

type QueueInterface interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Len(ctx context.Context) (int64, error)
}

type VectorCleanerInterface interface {
	Delete(ctx context.Context, entryIDs []int64) error
}

var (
	_ SearcherInterface      = (*search.Ranker)(nil)
	_ URLValidatorInterface  = (*feed.URLGuard)(nil)
	_ QueueInterface         = (queue.Queue)(nil)
	_ VectorCleanerInterface = (*index.Indexer)(nil)
)

// Deps are the collaborators of Handler. Indexer may be nil when semantic
// search is disabled.
type Deps struct {
	Sources     database.SourceRepository
	Entries     database.EntryRepository
	DeadLetters database.DeadLetterRepository
	Guard       URLValidatorInterface
	Scheduler   tasks.TaskSchedulerInterface
	Queue       QueueInterface
	Searcher    SearcherInterface
	Indexer     VectorCleanerInterface
	Version     string
}

type Handler struct {
	sources     database.SourceRepository
	entries     database.EntryRepository
	deadLetters database.DeadLetterRepository
	guard       URLValidatorInterface
	scheduler   tasks.TaskSchedulerInterface
	queue       QueueInterface
	searcher    SearcherInterface
	indexer     VectorCleanerInterface
	version     string
}

type CreateSourceRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
}

type SourceResponse struct {
	database.Source
	State      health.State `json:"state"`
	EntryCount *int         `json:"entry_count,omitempty"`
}

func newSourceResponse(s database.Source) SourceResponse {
	return SourceResponse{
		Source: s,
		State:  health.Derive(s.ConsecutiveFailures, s.IsActive),
	}
}
