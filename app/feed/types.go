package feed

import (
	"time"
)

type Metadata struct {
	Title string
	Link  string
}

// Item is a normalised, sanitised feed entry.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Author      string
	Content     string
	Summary     string
	PublishedAt *time.Time
}

// Recency mirrors the store's ordering key for items not yet persisted.
func (i Item) Recency(fallback time.Time) time.Time {
	if i.PublishedAt != nil {
		return *i.PublishedAt
	}
	return fallback
}

type FetchStatus int

const (
	FetchSuccess FetchStatus = iota
	FetchUnchanged
	FetchRateLimited
	FetchTransient
	FetchPermanent
)

func (s FetchStatus) String() string {
	switch s {
	case FetchSuccess:
		return "success"
	case FetchUnchanged:
		return "unchanged"
	case FetchRateLimited:
		return "rate_limited"
	case FetchTransient:
		return "transient"
	case FetchPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchRequest carries the cached validators of a source.
type FetchRequest struct {
	URL          string
	ETag         string
	LastModified string
}

type FetchResult struct {
	Status       FetchStatus
	StatusCode   int
	Metadata     *Metadata
	Items        []Item
	ETag         string
	LastModified string
	RetryAfter   time.Duration
	Reason       string
}

// Seed is one source definition loaded from FEEDS_DIR.
type Seed struct {
	Name   string // Derived from filename (without extension)
	URL    string `yaml:"url"`
	Title  string `yaml:"title"`
	Active *bool  `yaml:"active"`
}

func (s Seed) IsActive() bool {
	return s.Active == nil || *s.Active
}
