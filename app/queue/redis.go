package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lysyi3m/feedhoard/app/metrics"
)

var _ Queue = (*Redis)(nil)

const (
	defaultKeyPrefix    = "feedhoard:queue"
	defaultPollInterval = 500 * time.Millisecond
	blockTimeout        = time.Second
	promoteBatch        = 100
)

// Redis keeps jobs in three keys: a ready list, a processing list holding
// in-flight jobs until they are acknowledged, and a sorted set of delayed
// retries scored by due time in unix milliseconds.
type Redis struct {
	client       *redis.Client
	opts         Options
	ready        string
	processing   string
	delayed      string
	pollInterval time.Duration
	wg           sync.WaitGroup
}

func NewRedis(client *redis.Client, opts Options) *Redis {
	return &Redis{
		client:       client,
		opts:         opts,
		ready:        defaultKeyPrefix + ":ready",
		processing:   defaultKeyPrefix + ":processing",
		delayed:      defaultKeyPrefix + ":delayed",
		pollInterval: defaultPollInterval,
	}
}

// NewRedisClient connects to url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.WriteTimeout = 3 * time.Second
	// Blocking pops need a read timeout above the block duration.
	opts.ReadTimeout = blockTimeout + 3*time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (q *Redis) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if err := q.client.LPush(ctx, q.ready, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (q *Redis) Len(ctx context.Context) (int64, error) {
	ready, err := q.client.LLen(ctx, q.ready).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}

	delayed, err := q.client.ZCard(ctx, q.delayed).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed queue length: %w", err)
	}

	return ready + delayed, nil
}

func (q *Redis) Close() error {
	return q.client.Close()
}

func (q *Redis) Run(ctx context.Context, handler Handler) error {
	reclaimed, err := q.reclaim(ctx)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		slog.Warn("Reclaimed unacknowledged jobs", "count", reclaimed)
	}

	q.wg.Add(1)
	go q.promoter(ctx)

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, handler)
	}

	<-ctx.Done()
	q.wg.Wait()

	return nil
}

// reclaim moves jobs left in the processing list by a previous process back
// to the ready list.
func (q *Redis) reclaim(ctx context.Context) (int, error) {
	count := 0
	for {
		err := q.client.RPopLPush(ctx, q.processing, q.ready).Err()
		if errors.Is(err, redis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to reclaim jobs: %w", err)
		}
		count++
	}
}

func (q *Redis) worker(ctx context.Context, id int, handler Handler) {
	defer q.wg.Done()

	for ctx.Err() == nil {
		payload, err := q.client.BRPopLPush(ctx, q.ready, q.processing, blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to pop job", "worker_id", id, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		q.process(ctx, id, handler, payload)
	}
}

func (q *Redis) process(ctx context.Context, workerID int, handler Handler, payload string) {
	// Acknowledgement must survive shutdown, otherwise the job is reclaimed
	// and delivered again.
	ackCtx := context.WithoutCancel(ctx)

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		slog.Error("Dropping undecodable job", "worker_id", workerID, "error", err)
		q.opts.deadLetter(ctx, job, []byte(payload), fmt.Errorf("failed to decode job: %w", err))
		q.ack(ackCtx, payload)
		return
	}

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

		if scheduleErr := q.schedule(ackCtx, retry, time.Now().Add(d.delay)); scheduleErr != nil {
			// Leave the job in the processing list; it is reclaimed on restart.
			slog.Error("Failed to schedule job retry", "job_id", job.ID, "error", scheduleErr)
			return
		}

	case actionDeadLetter:
		q.opts.deadLetter(ctx, job, []byte(payload), err)
	}

	q.ack(ackCtx, payload)
}

func (q *Redis) schedule(ctx context.Context, job Job, due time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	return q.client.ZAdd(ctx, q.delayed, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: payload,
	}).Err()
}

func (q *Redis) ack(ctx context.Context, payload string) {
	if err := q.client.LRem(ctx, q.processing, 1, payload).Err(); err != nil {
		slog.Error("Failed to acknowledge job", "error", err)
	}
}

func (q *Redis) promoter(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
				slog.Error("Failed to promote delayed jobs", "error", err)
			}
		}
	}
}

// promoteDue moves delayed jobs whose due time has passed to the ready list.
// ZREM decides ownership so that concurrent promoters never duplicate a job.
func (q *Redis) promoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, payload := range due {
		removed, err := q.client.ZRem(ctx, q.delayed, payload).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}

		if err := q.client.LPush(ctx, q.ready, payload).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}

	return promoted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
