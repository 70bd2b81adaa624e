package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, opts Options) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := NewRedis(client, opts)
	q.pollInterval = 20 * time.Millisecond

	return q, mr
}

func runRedis(t *testing.T, q *Redis, handler Handler) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx, handler)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRedisEnqueueAndLen(t *testing.T) {
	q, mr := newTestRedis(t, Options{Workers: 1, MaxAttempts: 3})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewJob(1, "https://example.com/feed.xml", "", "")))
	require.NoError(t, q.schedule(ctx, NewJob(2, "https://example.com/other.xml", "", ""), time.Now().Add(time.Hour)))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, err := mr.List(q.ready)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var job Job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, int64(1), job.SourceID)
}

func TestRedisDeliversAndAcknowledges(t *testing.T) {
	q, mr := newTestRedis(t, Options{Workers: 2, MaxAttempts: 3, RetryDelay: time.Hour})

	var handled atomic.Int32
	runRedis(t, q, func(ctx context.Context, job Job) error {
		handled.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), NewJob(int64(i), "https://example.com", "", "")))
	}

	assert.Eventually(t, func() bool { return handled.Load() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		items, _ := mr.List(q.processing)
		return len(items) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRedisRetriesThroughDelayedSet(t *testing.T) {
	sink := &recordingSink{}
	q, _ := newTestRedis(t, Options{Workers: 1, MaxAttempts: 2, RetryDelay: 30 * time.Millisecond, DeadLetters: sink})

	var attempts atomic.Int32
	runRedis(t, q, func(ctx context.Context, job Job) error {
		attempts.Add(1)
		return errors.New("HTTP 502")
	})

	require.NoError(t, q.Enqueue(context.Background(), NewJob(9, "https://example.com/feed.xml", "", "")))

	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, 2, sink.all()[0].Attempts)
}

func TestRedisReclaimsProcessingJobs(t *testing.T) {
	q, mr := newTestRedis(t, Options{Workers: 1, MaxAttempts: 3})

	payload, err := json.Marshal(NewJob(3, "https://example.com/feed.xml", "", ""))
	require.NoError(t, err)
	_, err = mr.Lpush(q.processing, string(payload))
	require.NoError(t, err)

	var handled atomic.Int32
	runRedis(t, q, func(ctx context.Context, job Job) error {
		if job.SourceID == 3 {
			handled.Add(1)
		}
		return nil
	})

	assert.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestRedisPromoteDue(t *testing.T) {
	q, _ := newTestRedis(t, Options{Workers: 1, MaxAttempts: 3})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.schedule(ctx, NewJob(1, "a", "", ""), now.Add(-time.Second)))
	require.NoError(t, q.schedule(ctx, NewJob(2, "b", "", ""), now.Add(time.Hour)))

	promoted, err := q.promoteDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	ready, err := q.client.LLen(ctx, q.ready).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready)

	delayed, err := q.client.ZCard(ctx, q.delayed).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
}
