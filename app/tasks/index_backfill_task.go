package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
)

const (
	backfillBatchSize = 100
	backfillMaxPerRun = 1000
)

type BackfillResult struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// IndexBackfiller embeds entries stored without a current vector: those
// ingested while the index was unavailable and those whose indexing failed.
type IndexBackfiller struct {
	entries   database.EntryRepository
	indexer   EntryIndexer
	batchSize int
	maxPerRun int
	now       func() time.Time
}

func NewIndexBackfiller(entries database.EntryRepository, indexer EntryIndexer) *IndexBackfiller {
	return &IndexBackfiller{
		entries:   entries,
		indexer:   indexer,
		batchSize: backfillBatchSize,
		maxPerRun: backfillMaxPerRun,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run walks unindexed entries in id order, at most maxPerRun per call. Entries
// that fail again are left for the next run.
func (b *IndexBackfiller) Run(ctx context.Context) (BackfillResult, error) {
	var result BackfillResult
	if b.indexer == nil || !b.indexer.Enabled() {
		return result, nil
	}

	task := NewTask(TaskTypeIndexBackfill, "backfill", 0)
	task.Start()

	var cursor int64
	for seen := 0; seen < b.maxPerRun; {
		entries, err := b.entries.ListUnindexed(ctx, cursor, min(b.batchSize, b.maxPerRun-seen))
		if err != nil {
			return result, fmt.Errorf("failed to list unindexed entries: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		seen += len(entries)
		cursor = entries[len(entries)-1].ID

		batch := b.indexer.IndexBatch(ctx, entries)
		result.Indexed += batch.Indexed
		result.Failed += len(batch.Failed)

		if err := b.entries.MarkIndexed(ctx, succeeded(entries, batch), b.now()); err != nil {
			return result, err
		}
	}

	if result.Indexed > 0 || result.Failed > 0 {
		slog.Info("Task completed",
			"type", task.GetType(),
			"duration", task.GetDuration(),
			"indexed", result.Indexed,
			"failed", result.Failed)
	}

	return result, nil
}
