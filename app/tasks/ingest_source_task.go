package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/feed"
	"github.com/lysyi3m/feedhoard/app/health"
	"github.com/lysyi3m/feedhoard/app/index"
	"github.com/lysyi3m/feedhoard/app/metrics"
	"github.com/lysyi3m/feedhoard/app/queue"
)

// IngestSourceTask runs one fan-out job: fetch, persist, record health,
// extract, index. Steps run in that order and never in parallel.
type IngestSourceTask struct {
	Task
	Job queue.Job
	w   *Worker
}

func NewIngestSourceTask(job queue.Job, w *Worker) *IngestSourceTask {
	return &IngestSourceTask{
		Task: NewTask(TaskTypeIngestSource, job.ID, job.SourceID),
		Job:  job,
		w:    w,
	}
}

type ingestStats struct {
	total     int
	inserted  int
	updated   int
	unchanged int
	skipped   int
	extracted int
	indexed   int
	indexErrs int
}

func (t *IngestSourceTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	source, err := t.w.sources.GetSource(ctx, t.SourceID)
	if errors.Is(err, database.ErrSourceNotFound) {
		slog.Debug("Source no longer exists, skipping job", "source_id", t.SourceID, "job_id", t.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load source: %w", err)
	}

	if !source.IsActive {
		slog.Debug("Source inactive, skipping job", "source_id", t.SourceID, "job_id", t.ID)
		return nil
	}

	fetchStart := time.Now()
	res := t.w.fetcher.Fetch(ctx, feed.FetchRequest{
		URL:          source.URL,
		ETag:         t.Job.ETag,
		LastModified: t.Job.LastModified,
	})
	metrics.RecordFetch(res.Status.String(), time.Since(fetchStart))

	now := t.w.now()

	switch res.Status {
	case feed.FetchUnchanged:
		if err := t.w.sources.RecordUnchanged(ctx, source.ID, now); err != nil {
			return err
		}
		logTransition(source, health.StateHealthy)

		slog.Info("Task completed",
			"type", t.GetType(),
			"source_id", source.ID,
			"duration", t.GetDuration(),
			"status", res.Status.String())
		return nil

	case feed.FetchRateLimited:
		if err := t.w.sources.RecordAttempt(ctx, source.ID, now); err != nil {
			return err
		}

		slog.Info("Source rate limited", "source_id", source.ID, "retry_after", res.RetryAfter.String())
		return queue.RetryAfter(res.RetryAfter, fmt.Errorf("rate limited: %s", res.Reason))

	case feed.FetchTransient, feed.FetchPermanent:
		return t.recordFailure(ctx, source, res, now)
	}

	stats, err := t.persist(ctx, source, res, now)
	if err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source_id", source.ID,
		"duration", t.GetDuration(),
		"status", res.Status.String(),
		"total", stats.total,
		"new", stats.inserted,
		"updated", stats.updated,
		"unchanged", stats.unchanged,
		"skipped", stats.skipped,
		"extracted", stats.extracted,
		"indexed", stats.indexed,
		"index_errors", stats.indexErrs)

	return nil
}

func (t *IngestSourceTask) recordFailure(ctx context.Context, source *database.Source, res feed.FetchResult, now time.Time) error {
	result, err := t.w.sources.RecordFailure(ctx, source.ID, res.Reason, t.w.cfg.FailureThreshold, now)
	if err != nil {
		return err
	}

	fetchErr := fmt.Errorf("fetch failed (%s): %s", res.Status, res.Reason)

	slog.Warn("Source fetch failed",
		"source_id", source.ID,
		"url", source.URL,
		"status", res.Status.String(),
		"http_status", res.StatusCode,
		"consecutive_failures", result.ConsecutiveFailures,
		"error", res.Reason)

	logTransition(source, health.Derive(result.ConsecutiveFailures, result.IsActive))

	if !result.IsActive {
		metrics.SourcesDeactivated.Inc()
		slog.Warn("Source deactivated",
			"source_id", source.ID,
			"url", source.URL,
			"consecutive_failures", result.ConsecutiveFailures,
			"threshold", t.w.cfg.FailureThreshold)
	}

	if res.Status == feed.FetchPermanent {
		return queue.Permanent(fetchErr)
	}
	return fetchErr
}

// persist stores every item, records the success, then runs the optional
// extraction and indexing. Storage errors are returned without touching the
// health counters so the job is retried.
func (t *IngestSourceTask) persist(ctx context.Context, source *database.Source, res feed.FetchResult, now time.Time) (ingestStats, error) {
	stats := ingestStats{total: len(res.Items)}
	cutoff := now.Add(-t.w.cfg.RetentionMaxAge)

	var (
		changed  []int64
		inserted []extractTarget
		seen     = make(map[string]struct{}, len(res.Items))
	)

	for _, item := range res.Items {
		if _, dup := seen[item.GUID]; dup {
			stats.skipped++
			continue
		}
		seen[item.GUID] = struct{}{}

		if t.w.cfg.RetentionMaxAge > 0 && item.Recency(now).Before(cutoff) {
			slog.Debug("Item older than retention window, skipping", "source_id", source.ID, "guid", item.GUID)
			stats.skipped++
			continue
		}

		result, err := t.w.entries.UpsertEntry(ctx, source.ID, database.EntryInput{
			GUID:        item.GUID,
			URL:         item.Link,
			Title:       item.Title,
			Author:      item.Author,
			Content:     item.Content,
			Summary:     item.Summary,
			PublishedAt: item.PublishedAt,
		}, now)
		if err != nil {
			return stats, fmt.Errorf("failed to store entry %q: %w", item.GUID, err)
		}
		metrics.RecordEntry(result.Status.String())

		switch result.Status {
		case database.UpsertInserted:
			stats.inserted++
			changed = append(changed, result.EntryID)
			if item.Content == "" && item.Link != "" {
				inserted = append(inserted, extractTarget{EntryID: result.EntryID, URL: item.Link})
			}
		case database.UpsertUpdated:
			stats.updated++
			changed = append(changed, result.EntryID)
		default:
			stats.unchanged++
		}
	}

	if err := t.w.sources.RecordSuccess(ctx, source.ID, res.ETag, res.LastModified, now); err != nil {
		return stats, err
	}
	logTransition(source, health.StateHealthy)

	if t.w.cfg.ExtractContent && t.w.extractor != nil && len(inserted) > 0 {
		extract := NewExtractContentTask(source.ID, inserted, t.w.entries, t.w.extractor, now)
		extract.Start()
		stats.extracted = extract.Execute(ctx)
	}

	stats.indexed, stats.indexErrs = t.index(ctx, source.ID, changed, now)

	return stats, nil
}

// index embeds new and changed entries and marks the ones that succeeded.
// Failures stay unmarked for the backfill; the entries themselves are
// already stored.
func (t *IngestSourceTask) index(ctx context.Context, sourceID int64, ids []int64, now time.Time) (int, int) {
	if len(ids) == 0 || t.w.indexer == nil || !t.w.indexer.Enabled() {
		return 0, 0
	}

	entries, err := t.w.entries.GetEntriesByIDs(ctx, ids)
	if err != nil {
		slog.Error("Failed to load entries for indexing", "source_id", sourceID, "count", len(ids), "error", err)
		return 0, len(ids)
	}

	// Per-entry failures are logged by the indexer.
	result := t.w.indexer.IndexBatch(ctx, entries)

	if err := t.w.entries.MarkIndexed(ctx, succeeded(entries, result), now); err != nil {
		slog.Error("Failed to mark entries indexed", "source_id", sourceID, "error", err)
	}

	return result.Indexed, len(result.Failed)
}

func succeeded(entries []database.Entry, result index.BatchResult) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if _, failed := result.Failed[e.ID]; !failed {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// logTransition reports a change of health state. before is the state the
// job loaded; after is the state the store reported or implies.
func logTransition(source *database.Source, after health.State) {
	before := health.Derive(source.ConsecutiveFailures, source.IsActive)
	if before == after {
		return
	}

	slog.Info("Source health changed",
		"source_id", source.ID,
		"from", before,
		"to", after)
}
