// Package queue delivers ingestion jobs at least once, with delayed retries,
// a retry ceiling and dead-lettering.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/metrics"
)

var ErrQueueClosed = errors.New("queue is closed")

// Job asks a worker to ingest one source.
type Job struct {
	ID           string    `json:"id"`
	SourceID     int64     `json:"source_id"`
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Attempt      int       `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	LastError    string    `json:"last_error,omitempty"`
}

func NewJob(sourceID int64, url, etag, lastModified string) Job {
	return Job{
		ID:           uuid.NewString(),
		SourceID:     sourceID,
		URL:          url,
		ETag:         etag,
		LastModified: lastModified,
		EnqueuedAt:   time.Now().UTC(),
	}
}

// Handler processes one job. Returning nil acknowledges it; RetryAfter and
// Permanent errors select the disposition, any other error is retried after
// the configured delay.
type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Run consumes jobs until ctx is cancelled.
	Run(ctx context.Context, handler Handler) error
	Len(ctx context.Context) (int64, error)
	Close() error
}

type DeadLetterSink interface {
	AddDeadLetter(ctx context.Context, dl database.DeadLetter) (int64, error)
}

type Options struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	JobTimeout  time.Duration
	DeadLetters DeadLetterSink
}

type retryAfterError struct {
	delay time.Duration
	err   error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.delay, e.err)
}

func (e *retryAfterError) Unwrap() error { return e.err }

// RetryAfter asks for a retry no sooner than delay.
func RetryAfter(delay time.Duration, err error) error {
	return &retryAfterError{delay: delay, err: err}
}

// RequestedDelay reports the delay requested through RetryAfter, if any.
func RequestedDelay(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.delay, true
	}
	return 0, false
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a failure that retrying cannot fix; the job is dead-lettered.
func Permanent(err error) error {
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type action int

const (
	actionAck action = iota
	actionRetry
	actionDeadLetter
)

type decision struct {
	action action
	delay  time.Duration
}

func (o Options) decide(job Job, err error) decision {
	if err == nil {
		return decision{action: actionAck}
	}

	if IsPermanent(err) {
		return decision{action: actionDeadLetter}
	}

	// Attempt counts the deliveries before this one.
	if job.Attempt+1 >= o.MaxAttempts {
		return decision{action: actionDeadLetter}
	}

	if delay, ok := RequestedDelay(err); ok {
		return decision{action: actionRetry, delay: delay}
	}

	return decision{action: actionRetry, delay: o.RetryDelay}
}

func nextAttempt(job Job, err error) Job {
	job.Attempt++
	job.LastError = err.Error()
	return job
}

func (o Options) deadLetter(ctx context.Context, job Job, payload []byte, err error) {
	metrics.RecordJob("dead_letter")

	slog.Error("Job dead-lettered",
		"job_id", job.ID,
		"source_id", job.SourceID,
		"url", job.URL,
		"attempts", job.Attempt+1,
		"error", err)

	if o.DeadLetters == nil {
		return
	}

	_, sinkErr := o.DeadLetters.AddDeadLetter(context.WithoutCancel(ctx), database.DeadLetter{
		JobID:     job.ID,
		SourceID:  job.SourceID,
		URL:       job.URL,
		Payload:   payload,
		Attempts:  job.Attempt + 1,
		LastError: err.Error(),
		CreatedAt: time.Now(),
	})
	if sinkErr != nil {
		slog.Error("Failed to store dead letter", "job_id", job.ID, "error", sinkErr)
	}
}

func (o Options) runHandler(ctx context.Context, handler Handler, job Job) (err error) {
	jobCtx := ctx
	if o.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, o.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job handler panicked", "job_id", job.ID, "source_id", job.SourceID, "panic", r)
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler(jobCtx, job)
}
