package tasks

import (
	"time"
)

type TaskType string

const (
	TaskTypeIngestSource   TaskType = "ingest_source"
	TaskTypeExtractContent TaskType = "extract_content"
	TaskTypeSweepRetention TaskType = "sweep_retention"
	TaskTypeSyncSeeds      TaskType = "sync_seeds"
	TaskTypeFanOut         TaskType = "fan_out"
	TaskTypeIndexBackfill  TaskType = "index_backfill"
)

// Task carries the bookkeeping shared by every task: what it is, which
// source it concerns (0 for global tasks) and when it started.
type Task struct {
	ID        string
	Type      TaskType
	SourceID  int64
	StartedAt *time.Time
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, id string, sourceID int64) Task {
	return Task{
		ID:       id,
		Type:     taskType,
		SourceID: sourceID,
	}
}
