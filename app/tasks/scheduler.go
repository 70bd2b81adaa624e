package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/queue"
)

var ErrSourceInactive = errors.New("source is deactivated")

type FanOutResult struct {
	Enqueued  int
	Skipped   int
	Retention RetentionResult
	Backfill  BackfillResult
}

// Scheduler fans active sources out as independent ingestion jobs on a
// fixed period, then sweeps retention and backfills the index.
type Scheduler struct {
	sources    database.SourceRepository
	queue      JobQueue
	sweeper    *RetentionSweeper
	backfiller *IndexBackfiller
	interval   time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewScheduler builds a scheduler; sweeper and backfiller may be nil.
func NewScheduler(sources database.SourceRepository, q JobQueue, sweeper *RetentionSweeper, backfiller *IndexBackfiller, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		sources:    sources,
		queue:      q,
		sweeper:    sweeper,
		backfiller: backfiller,
		interval:   interval,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start runs one fan-out immediately, then one per interval until Stop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(s.ctx)

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(s.ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// RunOnce enqueues one job per active source, then sweeps retention and
// backfills the index.
// A failed enqueue is logged and counted; the run continues.
func (s *Scheduler) RunOnce(ctx context.Context) FanOutResult {
	task := NewTask(TaskTypeFanOut, "fan-out", 0)
	task.Start()

	var result FanOutResult

	sources, err := s.sources.ListActiveSources(ctx)
	if err != nil {
		slog.Error("Failed to list active sources", "error", err)
	}

	for _, source := range sources {
		if err := s.enqueue(ctx, source); err != nil {
			slog.Warn("Failed to enqueue ingestion job", "source_id", source.ID, "error", err)
			result.Skipped++
			continue
		}
		result.Enqueued++
	}

	if s.sweeper != nil {
		retention, err := s.sweeper.Sweep(ctx)
		if err != nil {
			slog.Error("Retention sweep failed", "error", err)
		}
		result.Retention = retention
	}

	if s.backfiller != nil {
		backfill, err := s.backfiller.Run(ctx)
		if err != nil {
			slog.Error("Index backfill failed", "error", err)
		}
		result.Backfill = backfill
	}

	slog.Info("Task completed",
		"type", task.GetType(),
		"duration", task.GetDuration(),
		"sources", len(sources),
		"enqueued", result.Enqueued,
		"skipped", result.Skipped)

	return result
}

// TriggerSource enqueues a single source on demand. Inactive sources are
// refused; reactivate them first.
func (s *Scheduler) TriggerSource(ctx context.Context, sourceID int64) error {
	source, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}

	if !source.IsActive {
		return fmt.Errorf("%w: %d", ErrSourceInactive, sourceID)
	}

	return s.enqueue(ctx, *source)
}

func (s *Scheduler) enqueue(ctx context.Context, source database.Source) error {
	job := queue.NewJob(source.ID, source.URL, source.ETag, source.LastModified)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return err
	}

	slog.Debug("Ingestion job enqueued", "source_id", source.ID, "job_id", job.ID)
	return nil
}
