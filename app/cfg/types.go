package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath    string
	VectorDSN string

	// Application configuration
	FeedsDir          string
	Port              string
	WorkerCount       int
	SchedulerInterval time.Duration
	APIAccessKey      string

	// Queue
	QueueBackend string
	RedisURL     string
	MaxAttempts  int
	RetryDelay   time.Duration

	// Fetching
	UserAgent            string
	FetchTimeout         time.Duration
	JobTimeout           time.Duration
	HostInterval         time.Duration
	AllowPrivateNetworks bool
	ExtractContent       bool

	// Health and retention
	FailureThreshold    int
	RetentionMaxEntries int
	RetentionMaxAge     time.Duration

	// Indexing and search
	EmbeddingBaseURL     string
	EmbeddingModel       string
	EmbeddingToken       string
	EmbeddingDimensions  int
	IndexMaxChars        int
	SearchTopK           int
	SearchMinSimilarity  float64
	SearchMaxQueryLength int
	SearchLiteralLimit   int

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}

// SemanticSearchEnabled reports whether both the embedding service and the
// vector index are configured.
func (c *Cfg) SemanticSearchEnabled() bool {
	return c.EmbeddingBaseURL != "" && c.VectorDSN != ""
}
