package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feedhoard/app/database"
)

type extractTarget struct {
	EntryID int64
	URL     string
}

// ExtractContentTask fills in content for newly stored entries whose feed
// item carried none, using the entry's canonical page.
type ExtractContentTask struct {
	Task
	targets   []extractTarget
	entries   database.EntryRepository
	extractor ContentExtractor
	at        time.Time
}

func NewExtractContentTask(sourceID int64, targets []extractTarget, entries database.EntryRepository, extractor ContentExtractor, at time.Time) *ExtractContentTask {
	return &ExtractContentTask{
		Task:      NewTask(TaskTypeExtractContent, fmt.Sprintf("extract-%d", sourceID), sourceID),
		targets:   targets,
		entries:   entries,
		extractor: extractor,
		at:        at,
	}
}

// Execute returns the number of entries that received content. Failures are
// logged per entry and never abort the batch.
func (t *ExtractContentTask) Execute(ctx context.Context) int {
	successCount := 0
	errorCount := 0

	for _, target := range t.targets {
		select {
		case <-ctx.Done():
			return successCount
		default:
		}

		if err := t.extractContentForEntry(ctx, target); err != nil {
			slog.Error("Failed to extract content for entry", "source_id", t.SourceID, "entry_id", target.EntryID, "url", target.URL, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source_id", t.SourceID,
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount)

	return successCount
}

func (t *ExtractContentTask) extractContentForEntry(ctx context.Context, target extractTarget) error {
	content, err := t.extractor.Extract(ctx, target.URL)
	if err != nil {
		return err
	}

	if err := t.entries.UpdateEntryContent(ctx, target.EntryID, content, t.at); err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}

	slog.Debug("Content extracted successfully", "entry_id", target.EntryID, "url", target.URL, "content_length", len(content))
	return nil
}
