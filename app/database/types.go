package database

import "time"

type Source struct {
	ID                  int64      `json:"id"`
	URL                 string     `json:"url"`
	Title               string     `json:"title"`
	ETag                string     `json:"-"`
	LastModified        string     `json:"-"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	IsActive            bool       `json:"is_active"`
	LastFetchAt         *time.Time `json:"last_fetch_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type Entry struct {
	ID          int64      `json:"id"`
	SourceID    int64      `json:"source_id"`
	GUID        string     `json:"guid"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	Content     string     `json:"content,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Recency is the publication time, or the first time the entry was seen
// when the feed did not supply one.
func (e Entry) Recency() time.Time {
	if e.PublishedAt != nil {
		return *e.PublishedAt
	}
	return e.FirstSeenAt
}

type DeadLetter struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	SourceID  int64     `json:"source_id"`
	URL       string    `json:"url"`
	Payload   []byte    `json:"-"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
}

type UpsertStatus int

const (
	UpsertUnchanged UpsertStatus = iota
	UpsertInserted
	UpsertUpdated
)

func (s UpsertStatus) String() string {
	switch s {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

type UpsertResult struct {
	EntryID int64
	Status  UpsertStatus
}

// FailureResult is the source health after a failure was recorded.
type FailureResult struct {
	ConsecutiveFailures int
	IsActive            bool
}
