package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/metrics"
)

type RetentionResult struct {
	Capped         int `json:"capped"`
	Aged           int `json:"aged"`
	VectorFailures int `json:"vector_failures"`
}

// RetentionSweeper enforces the per-source entry cap and the global age
// window. Each rule is one bulk statement over all sources.
type RetentionSweeper struct {
	entries    database.EntryRepository
	indexer    EntryIndexer
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time
}

func NewRetentionSweeper(entries database.EntryRepository, indexer EntryIndexer, maxEntries int, maxAge time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		entries:    entries,
		indexer:    indexer,
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep applies both rules. A failing rule does not stop the other one.
func (s *RetentionSweeper) Sweep(ctx context.Context) (RetentionResult, error) {
	task := NewTask(TaskTypeSweepRetention, "retention", 0)
	task.Start()

	var result RetentionResult
	var errs []error

	capped, err := s.entries.DeleteEntriesBeyondCap(ctx, s.maxEntries)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to apply entry cap: %w", err))
	}
	result.Capped = len(capped)
	result.VectorFailures += s.deleteVectors(ctx, "cap", capped)
	metrics.RecordRetention("cap", len(capped))

	aged, err := s.entries.DeleteEntriesOlderThan(ctx, s.now().Add(-s.maxAge))
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to apply age window: %w", err))
	}
	result.Aged = len(aged)
	result.VectorFailures += s.deleteVectors(ctx, "age", aged)
	metrics.RecordRetention("age", len(aged))

	slog.Info("Task completed",
		"type", task.GetType(),
		"duration", task.GetDuration(),
		"capped", result.Capped,
		"aged", result.Aged,
		"vector_failures", result.VectorFailures)

	return result, errors.Join(errs...)
}

// deleteVectors is best-effort: the entries are already gone and an orphaned
// vector is skipped at search time.
func (s *RetentionSweeper) deleteVectors(ctx context.Context, rule string, ids []int64) int {
	if len(ids) == 0 || s.indexer == nil || !s.indexer.Enabled() {
		return 0
	}

	if err := s.indexer.Delete(ctx, ids); err != nil {
		slog.Error("Failed to delete vectors of removed entries", "rule", rule, "count", len(ids), "entry_ids", ids, "error", err)
		return len(ids)
	}

	return 0
}
