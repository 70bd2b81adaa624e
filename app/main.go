package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lysyi3m/feedhoard/app/api"
	"github.com/lysyi3m/feedhoard/app/cfg"
	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/feed"
	"github.com/lysyi3m/feedhoard/app/index"
	"github.com/lysyi3m/feedhoard/app/queue"
	"github.com/lysyi3m/feedhoard/app/search"
	"github.com/lysyi3m/feedhoard/app/tasks"
	"github.com/lysyi3m/feedhoard/app/vector"
)

const memoryQueueCapacity = 300

const backfillNotice = "Entries stored meanwhile stay unindexed; the index backfill picks them up after a restart with the vector database reachable"

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting feedhoard", "version", appCfg.Version)

	if err := run(appCfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

func run(c *cfg.Cfg) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(c.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "path", c.DBPath, "schema_version", version, "dirty", dirty)

	sourceRepo := database.NewSourceRepository(db)
	entryRepo := database.NewEntryRepository(db)
	deadLetterRepo := database.NewDeadLetterRepository(db)

	embedder, vectorIndex, closeVectors, err := setupSemanticSearch(ctx, c)
	if err != nil {
		return err
	}
	defer closeVectors()

	indexer := index.NewIndexer(embedder, vectorIndex, c.IndexMaxChars)

	jobQueue, err := setupQueue(ctx, c, deadLetterRepo)
	if err != nil {
		return err
	}
	defer jobQueue.Close()

	guard := feed.NewURLGuard(c.AllowPrivateNetworks)
	if c.AllowPrivateNetworks {
		slog.Warn("Private network fetching enabled, do not use in production")
	}
	sanitizer := feed.NewSanitizer()
	fetcher := feed.NewFetcher(guard, feed.NewHostLimiter(c.HostInterval), feed.NewParser(sanitizer), c.UserAgent, c.FetchTimeout)

	var extractor tasks.ContentExtractor
	if c.ExtractContent {
		extractor = feed.NewContentExtractor(fetcher, sanitizer)
	}

	worker := tasks.NewWorker(sourceRepo, entryRepo, fetcher, extractor, indexer, tasks.WorkerConfig{
		FailureThreshold: c.FailureThreshold,
		RetentionMaxAge:  c.RetentionMaxAge,
		ExtractContent:   c.ExtractContent,
	})

	seedCache := feed.NewSeedCache(c.FeedsDir)
	if err := seedCache.Run(); err != nil {
		return fmt.Errorf("failed to load seeds: %w", err)
	}
	if err := tasks.SyncSeeds(ctx, seedCache, sourceRepo, nil); err != nil {
		slog.Warn("Seed sync incomplete", "error", err)
	}

	sweeper := tasks.NewRetentionSweeper(entryRepo, indexer, c.RetentionMaxEntries, c.RetentionMaxAge)
	backfiller := tasks.NewIndexBackfiller(entryRepo, indexer)
	scheduler := tasks.NewScheduler(sourceRepo, jobQueue, sweeper, backfiller, c.SchedulerInterval)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Starting workers", "count", c.WorkerCount, "backend", c.QueueBackend)
		if err := jobQueue.Run(ctx, worker.Handle); err != nil {
			slog.Error("Queue consumer stopped", "error", err)
		}
	}()

	scheduler.Start()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := feed.WatchSeeds(ctx, seedCache, func(ctx context.Context) {
			if err := tasks.SyncSeeds(ctx, seedCache, sourceRepo, scheduler); err != nil {
				slog.Warn("Seed sync incomplete", "error", err)
			}
		})
		if err != nil {
			slog.Error("Seed watcher stopped", "error", err)
		}
	}()

	ranker := search.NewRanker(entryRepo, embedder, vectorIndex, search.Options{
		TopK:           c.SearchTopK,
		MinSimilarity:  c.SearchMinSimilarity,
		MaxQueryLength: c.SearchMaxQueryLength,
		LiteralLimit:   c.SearchLiteralLimit,
	})

	handler := api.NewHandler(api.Deps{
		Sources:     sourceRepo,
		Entries:     entryRepo,
		DeadLetters: deadLetterRepo,
		Guard:       guard,
		Scheduler:   scheduler,
		Queue:       jobQueue,
		Searcher:    ranker,
		Indexer:     indexer,
		Version:     c.Version,
	})

	httpServer := &http.Server{
		Addr:         ":" + c.Port,
		Handler:      api.NewServer(handler, c.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", c.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case runErr = <-serverErrChan:
	}

	slog.Info("Shutting down gracefully...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	scheduler.Stop()
	wg.Wait()

	return runErr
}

// setupSemanticSearch returns nil collaborators when semantic search is not
// configured or the vector database is unreachable; search then runs on
// literal matching alone.
func setupSemanticSearch(ctx context.Context, c *cfg.Cfg) (vector.Embedder, vector.Index, func(), error) {
	noop := func() {}

	if !c.SemanticSearchEnabled() {
		slog.Info("Semantic search disabled (EMBEDDING_BASE_URL or VECTOR_DSN not set)")
		return nil, nil, noop, nil
	}

	embedder, err := vector.NewOpenAIEmbedder(c.EmbeddingBaseURL, c.EmbeddingToken, c.EmbeddingModel)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("failed to create embedder: %w", err)
	}

	pool, err := vector.NewPool(ctx, c.VectorDSN)
	if err != nil {
		slog.Error("Vector database unavailable, semantic search disabled until restart", "error", err)
		slog.Warn(backfillNotice)
		return nil, nil, noop, nil
	}

	pgIndex := vector.NewPgIndex(pool, c.EmbeddingDimensions)
	if err := pgIndex.EnsureSchema(ctx); err != nil {
		pool.Close()
		slog.Error("Failed to prepare vector schema, semantic search disabled until restart", "error", err)
		slog.Warn(backfillNotice)
		return nil, nil, noop, nil
	}

	slog.Info("Semantic search enabled", "model", c.EmbeddingModel, "dimensions", c.EmbeddingDimensions)
	return embedder, pgIndex, pool.Close, nil
}

func setupQueue(ctx context.Context, c *cfg.Cfg, deadLetters queue.DeadLetterSink) (queue.Queue, error) {
	opts := queue.Options{
		Workers:     c.WorkerCount,
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
		JobTimeout:  c.JobTimeout,
		DeadLetters: deadLetters,
	}

	switch c.QueueBackend {
	case "redis":
		client, err := queue.NewRedisClient(ctx, c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return queue.NewRedis(client, opts), nil
	default:
		return queue.NewMemory(opts, memoryQueueCapacity), nil
	}
}
