package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceExists   = errors.New("source already exists")
)

// EntryInput is a normalised feed item ready to be stored.
type EntryInput struct {
	GUID        string
	URL         string
	Title       string
	Author      string
	Content     string
	Summary     string
	PublishedAt *time.Time
}

type SourceRepository interface {
	CreateSource(ctx context.Context, url, title string) (*Source, error)
	SeedSource(ctx context.Context, url, title string, active bool) (*Source, bool, error)
	GetSource(ctx context.Context, id int64) (*Source, error)
	ListSources(ctx context.Context) ([]Source, error)
	ListActiveSources(ctx context.Context) ([]Source, error)
	DeleteSource(ctx context.Context, id int64) ([]int64, error)

	RecordSuccess(ctx context.Context, id int64, etag, lastModified string, at time.Time) error
	RecordUnchanged(ctx context.Context, id int64, at time.Time) error
	RecordAttempt(ctx context.Context, id int64, at time.Time) error
	RecordFailure(ctx context.Context, id int64, reason string, threshold int, at time.Time) (*FailureResult, error)
	Reactivate(ctx context.Context, id int64) error
}

type EntryRepository interface {
	UpsertEntry(ctx context.Context, sourceID int64, in EntryInput, at time.Time) (UpsertResult, error)
	UpdateEntryContent(ctx context.Context, id int64, content string, at time.Time) error
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	GetEntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error)
	SearchLiteral(ctx context.Context, query string, limit int) ([]Entry, error)
	CountEntries(ctx context.Context, sourceID int64) (int, error)
	MarkIndexed(ctx context.Context, ids []int64, at time.Time) error
	ListUnindexed(ctx context.Context, afterID int64, limit int) ([]Entry, error)

	DeleteEntriesBeyondCap(ctx context.Context, maxPerSource int) ([]int64, error)
	DeleteEntriesOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error)
}

type DeadLetterRepository interface {
	AddDeadLetter(ctx context.Context, dl DeadLetter) (int64, error)
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	GetDeadLetter(ctx context.Context, id int64) (*DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id int64) error
}

var (
	_ SourceRepository     = (*SourceRepo)(nil)
	_ EntryRepository      = (*EntryRepo)(nil)
	_ DeadLetterRepository = (*DeadLetterRepo)(nil)
)
