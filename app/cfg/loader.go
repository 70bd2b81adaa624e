package cfg

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./data/feedhoard.db" description:"SQLite database file"`
	VectorDSN string `long:"vector-dsn" env:"VECTOR_DSN" description:"PostgreSQL DSN of the pgvector index (semantic search disabled when empty)"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing source seed files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of ingestion workers"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"3600" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for admin endpoints (optional)"`

	// Queue
	QueueBackend string `long:"queue-backend" env:"QUEUE_BACKEND" default:"memory" choice:"memory" choice:"redis" description:"Job queue backend"`
	RedisURL     string `long:"redis-url" env:"REDIS_URL" default:"redis://localhost:6379/0" description:"Redis URL for the redis queue backend"`
	MaxAttempts  int    `long:"max-attempts" env:"MAX_ATTEMPTS" default:"3" description:"Delivery attempts before a job is dead-lettered"`
	RetryDelay   int    `long:"retry-delay" env:"RETRY_DELAY" default:"300" description:"Delay between job attempts in seconds"`

	// Fetching
	UserAgent            string `long:"user-agent" env:"USER_AGENT" default:"feedhoard/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout         int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Feed fetch timeout in seconds"`
	JobTimeout           int    `long:"job-timeout" env:"JOB_TIMEOUT" default:"300" description:"Overall ingestion job budget in seconds"`
	HostInterval         int    `long:"host-interval" env:"HOST_INTERVAL" default:"1000" description:"Minimum delay between requests to one host in milliseconds"`
	AllowPrivateNetworks bool   `long:"allow-private-networks" env:"ALLOW_PRIVATE_NETWORKS" description:"Allow fetching from private and loopback addresses (development only)"`
	ExtractContent       bool   `long:"extract-content" env:"EXTRACT_CONTENT" description:"Extract article content for entries published without one"`

	// Health and retention
	FailureThreshold    int `long:"failure-threshold" env:"FAILURE_THRESHOLD" default:"10" description:"Consecutive failures before a source is deactivated"`
	RetentionMaxEntries int `long:"retention-max-entries" env:"RETENTION_MAX_ENTRIES" default:"100" description:"Entries kept per source"`
	RetentionMaxAgeDays int `long:"retention-max-age" env:"RETENTION_MAX_AGE" default:"90" description:"Maximum entry age in days"`

	// Indexing and search
	EmbeddingBaseURL     string  `long:"embedding-base-url" env:"EMBEDDING_BASE_URL" description:"OpenAI-compatible embedding endpoint"`
	EmbeddingModel       string  `long:"embedding-model" env:"EMBEDDING_MODEL" default:"text-embedding-3-small" description:"Embedding model name"`
	EmbeddingToken       string  `long:"embedding-token" env:"EMBEDDING_TOKEN" default:"none" description:"Embedding service token"`
	EmbeddingDimensions  int     `long:"embedding-dimensions" env:"EMBEDDING_DIMENSIONS" default:"1536" description:"Embedding vector dimensions"`
	IndexMaxChars        int     `long:"index-max-chars" env:"INDEX_MAX_CHARS" default:"8000" description:"Maximum characters sent to the embedding service per entry"`
	SearchTopK           int     `long:"search-top-k" env:"SEARCH_TOP_K" default:"50" description:"Nearest neighbours requested per search"`
	SearchMinSimilarity  float64 `long:"search-min-similarity" env:"SEARCH_MIN_SIMILARITY" default:"0.3" description:"Minimum cosine similarity for semantic matches"`
	SearchMaxQueryLength int     `long:"search-max-query-length" env:"SEARCH_MAX_QUERY_LENGTH" default:"1000" description:"Maximum query length in characters"`
	SearchLiteralLimit   int     `long:"search-literal-limit" env:"SEARCH_LITERAL_LIMIT" default:"200" description:"Maximum literal matches considered per search"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load parses the process arguments and environment.
func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses args and the environment. It returns nil, nil when help
// was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:               raw.DBPath,
		VectorDSN:            raw.VectorDSN,
		FeedsDir:             raw.FeedsDir,
		Port:                 raw.Port,
		WorkerCount:          raw.WorkerCount,
		SchedulerInterval:    time.Duration(raw.SchedulerInterval) * time.Second,
		APIAccessKey:         raw.APIAccessKey,
		QueueBackend:         raw.QueueBackend,
		RedisURL:             raw.RedisURL,
		MaxAttempts:          raw.MaxAttempts,
		RetryDelay:           time.Duration(raw.RetryDelay) * time.Second,
		UserAgent:            raw.UserAgent,
		FetchTimeout:         time.Duration(raw.FetchTimeout) * time.Second,
		JobTimeout:           time.Duration(raw.JobTimeout) * time.Second,
		HostInterval:         time.Duration(raw.HostInterval) * time.Millisecond,
		AllowPrivateNetworks: raw.AllowPrivateNetworks,
		ExtractContent:       raw.ExtractContent,
		FailureThreshold:     raw.FailureThreshold,
		RetentionMaxEntries:  raw.RetentionMaxEntries,
		RetentionMaxAge:      time.Duration(raw.RetentionMaxAgeDays) * 24 * time.Hour,
		EmbeddingBaseURL:     raw.EmbeddingBaseURL,
		EmbeddingModel:       raw.EmbeddingModel,
		EmbeddingToken:       raw.EmbeddingToken,
		EmbeddingDimensions:  raw.EmbeddingDimensions,
		IndexMaxChars:        raw.IndexMaxChars,
		SearchTopK:           raw.SearchTopK,
		SearchMinSimilarity:  raw.SearchMinSimilarity,
		SearchMaxQueryLength: raw.SearchMaxQueryLength,
		SearchLiteralLimit:   raw.SearchLiteralLimit,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	positiveFields := map[string]int{
		"worker count":            cfg.WorkerCount,
		"max attempts":            cfg.MaxAttempts,
		"failure threshold":       cfg.FailureThreshold,
		"retention max entries":   cfg.RetentionMaxEntries,
		"embedding dimensions":    cfg.EmbeddingDimensions,
		"index max chars":         cfg.IndexMaxChars,
		"search top k":            cfg.SearchTopK,
		"search max query length": cfg.SearchMaxQueryLength,
		"search literal limit":    cfg.SearchLiteralLimit,
	}

	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	if cfg.SchedulerInterval <= 0 || cfg.FetchTimeout <= 0 || cfg.JobTimeout <= 0 || cfg.RetentionMaxAge <= 0 {
		return fmt.Errorf("intervals, timeouts and retention age must be positive")
	}

	if cfg.FetchTimeout >= cfg.JobTimeout {
		return fmt.Errorf("fetch timeout (%s) must be shorter than job timeout (%s)", cfg.FetchTimeout, cfg.JobTimeout)
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
