package cfg

import (
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	// Test default version
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		// This is fine, version could be set at build time
		t.Logf("Version: %s", version)
	}
}

func TestLoadArgsDefaults(t *testing.T) {
	t.Setenv("TZ", "UTC")

	cfg, err := LoadArgs([]string{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.SchedulerInterval != time.Hour {
		t.Errorf("Expected scheduler interval 1h, got %v", cfg.SchedulerInterval)
	}
	if cfg.FailureThreshold != 10 {
		t.Errorf("Expected failure threshold 10, got %d", cfg.FailureThreshold)
	}
	if cfg.RetentionMaxEntries != 100 {
		t.Errorf("Expected retention max entries 100, got %d", cfg.RetentionMaxEntries)
	}
	if cfg.RetentionMaxAge != 90*24*time.Hour {
		t.Errorf("Expected retention max age 90 days, got %v", cfg.RetentionMaxAge)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected max attempts 3, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryDelay != 5*time.Minute {
		t.Errorf("Expected retry delay 5m, got %v", cfg.RetryDelay)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("Expected fetch timeout 30s, got %v", cfg.FetchTimeout)
	}
	if cfg.SearchTopK != 50 {
		t.Errorf("Expected search top k 50, got %d", cfg.SearchTopK)
	}
	if cfg.SearchMaxQueryLength != 1000 {
		t.Errorf("Expected max query length 1000, got %d", cfg.SearchMaxQueryLength)
	}
	if cfg.QueueBackend != "memory" {
		t.Errorf("Expected memory queue backend, got '%s'", cfg.QueueBackend)
	}
	if cfg.SemanticSearchEnabled() {
		t.Error("Expected semantic search to be disabled without embedding and vector configuration")
	}

	if Get() != cfg {
		t.Error("Expected Get to return the loaded configuration")
	}
}

func TestLoadArgsEnvironmentAndFlags(t *testing.T) {
	t.Setenv("TZ", "UTC")
	t.Setenv("FAILURE_THRESHOLD", "4")
	t.Setenv("EMBEDDING_BASE_URL", "http://embeddings.example.com/v1")
	t.Setenv("VECTOR_DSN", "postgres://localhost/vectors")

	cfg, err := LoadArgs([]string{"--worker-count", "9", "--queue-backend", "redis"})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.FailureThreshold != 4 {
		t.Errorf("Expected failure threshold 4 from environment, got %d", cfg.FailureThreshold)
	}
	if cfg.WorkerCount != 9 {
		t.Errorf("Expected worker count 9 from flags, got %d", cfg.WorkerCount)
	}
	if cfg.QueueBackend != "redis" {
		t.Errorf("Expected redis queue backend, got '%s'", cfg.QueueBackend)
	}
	if !cfg.SemanticSearchEnabled() {
		t.Error("Expected semantic search to be enabled")
	}
}

func TestLoadArgsValidation(t *testing.T) {
	t.Setenv("TZ", "UTC")

	tests := []struct {
		name string
		args []string
	}{
		{"zero workers", []string{"--worker-count", "0"}},
		{"zero threshold", []string{"--failure-threshold", "0"}},
		{"fetch timeout not shorter than job timeout", []string{"--fetch-timeout", "300", "--job-timeout", "300"}},
		{"unknown queue backend", []string{"--queue-backend", "kafka"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadArgs(tt.args); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}
