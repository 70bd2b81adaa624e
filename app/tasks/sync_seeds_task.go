package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/feed"
)

type SeedLister interface {
	GetSeeds() []feed.Seed
}

// SyncSeedsTask registers the sources declared in seed files. Existing
// sources keep their health and activity; only the title follows the file.
type SyncSeedsTask struct {
	Task
	seeds   SeedLister
	sources database.SourceRepository
}

func NewSyncSeedsTask(seeds SeedLister, sources database.SourceRepository) *SyncSeedsTask {
	return &SyncSeedsTask{
		Task:    NewTask(TaskTypeSyncSeeds, "seeds", 0),
		seeds:   seeds,
		sources: sources,
	}
}

// Execute returns the ids of sources created by this run that are active, so
// the caller can fetch them without waiting for the next scheduler tick.
func (t *SyncSeedsTask) Execute(ctx context.Context) ([]int64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	seeds := t.seeds.GetSeeds()

	var created []int64
	errorCount := 0

	for _, seed := range seeds {
		source, isNew, err := t.sources.SeedSource(ctx, seed.URL, seed.Title, seed.IsActive())
		if err != nil {
			slog.Error("Failed to sync seed", "seed", seed.Name, "url", seed.URL, "error", err)
			errorCount++
			continue
		}

		if isNew && source.IsActive {
			created = append(created, source.ID)
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"seeds", len(seeds),
		"created", len(created),
		"errors", errorCount)

	if errorCount > 0 {
		return created, fmt.Errorf("failed to sync %d of %d seeds", errorCount, len(seeds))
	}

	return created, nil
}

// SyncSeeds runs SyncSeedsTask and, when scheduler is non-nil, triggers an
// immediate fetch of every source it created.
func SyncSeeds(ctx context.Context, seeds SeedLister, sources database.SourceRepository, scheduler TaskSchedulerInterface) error {
	task := NewSyncSeedsTask(seeds, sources)
	task.Start()

	created, err := task.Execute(ctx)
	if scheduler == nil {
		return err
	}

	for _, id := range created {
		if triggerErr := scheduler.TriggerSource(ctx, id); triggerErr != nil {
			slog.Warn("Failed to enqueue seeded source", "source_id", id, "error", triggerErr)
		}
	}

	return err
}
