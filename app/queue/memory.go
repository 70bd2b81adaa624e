package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/feedhoard/app/metrics"
)

var _ Queue = (*Memory)(nil)

// Memory is a process-local queue: a buffered channel drained by a worker
// pool. Pending and delayed jobs are lost on restart.
type Memory struct {
	opts      Options
	jobs      chan Job
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemory(opts Options, capacity int) *Memory {
	return &Memory{
		opts: opts,
		jobs: make(chan Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue blocks while the buffer is full until a worker frees a slot, ctx
// is cancelled or the queue is closed.
func (q *Memory) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

func (q *Memory) Len(context.Context) (int64, error) {
	return int64(len(q.jobs)), nil
}

func (q *Memory) Run(ctx context.Context, handler Handler) error {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, handler)
	}

	<-ctx.Done()
	q.wg.Wait()

	return nil
}

func (q *Memory) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *Memory) worker(ctx context.Context, id int, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.jobs:
			q.process(ctx, id, handler, job)

		case <-ctx.Done():
			return
		}
	}
}

func (q *Memory) process(ctx context.Context, workerID int, handler Handler, job Job) {
	err := q.opts.runHandler(ctx, handler, job)
	d := q.opts.decide(job, err)

	switch d.action {
	case actionAck:
		metrics.RecordJob("ack")

	case actionRetry:
		metrics.RecordJob("retry")
		retry := nextAttempt(job, err)

		slog.Warn("Job retry scheduled",
			"worker_id", workerID,
			"job_id", job.ID,
			"source_id", job.SourceID,
			"attempt", retry.Attempt,
			"max_attempts", q.opts.MaxAttempts,
			"delay", d.delay.String(),
			"error", err)

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()

			timer := time.NewTimer(d.delay)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				slog.Debug("Queue stopped, dropping job retry", "job_id", retry.ID)
			case <-timer.C:
				if err := q.Enqueue(ctx, retry); err != nil {
					slog.Error("Failed to re-enqueue job for retry", "job_id", retry.ID, "error", err)
				}
			}
		}()

	case actionDeadLetter:
		payload, _ := json.Marshal(job)
		q.opts.deadLetter(ctx, job, payload, err)
	}
}
