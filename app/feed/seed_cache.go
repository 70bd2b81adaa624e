package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SeedCache holds the source definitions found in the seeds directory.
type SeedCache struct {
	feedsDir string
	cache    map[string]*Seed
	mu       sync.RWMutex
}

func NewSeedCache(feedsDir string) *SeedCache {
	return &SeedCache{
		feedsDir: feedsDir,
		cache:    make(map[string]*Seed),
	}
}

func (sc *SeedCache) Dir() string {
	return sc.feedsDir
}

// Run (re)loads every seed file. Files that disappeared are dropped from the
// cache; a single invalid file fails the whole load and leaves the cache as is.
func (sc *SeedCache) Run() error {
	if _, err := os.Stat(sc.feedsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := seedFiles(sc.feedsDir)
	if err != nil {
		return err
	}

	loaded := make(map[string]*Seed, len(files))
	for _, file := range files {
		name := seedName(file)

		seed, err := sc.parseSeed(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
		seed.Name = name

		if err := validateSeed(seed); err != nil {
			return fmt.Errorf("invalid seed %s: %w", file, err)
		}

		loaded[name] = seed
		slog.Debug("Seed loaded", "name", name, "url", seed.URL, "active", seed.IsActive())
	}

	sc.mu.Lock()
	sc.cache = loaded
	sc.mu.Unlock()

	return nil
}

func (sc *SeedCache) GetSeed(name string) (*Seed, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	seed, ok := sc.cache[name]
	if !ok {
		return nil, fmt.Errorf("seed with name '%s' not found", name)
	}
	return seed, nil
}

// GetSeeds returns the cached seeds ordered by name.
func (sc *SeedCache) GetSeeds() []Seed {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	seeds := make([]Seed, 0, len(sc.cache))
	for _, seed := range sc.cache {
		seeds = append(seeds, *seed)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Name < seeds[j].Name })

	return seeds
}

func (sc *SeedCache) GetSeedCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.cache)
}

func (sc *SeedCache) parseSeed(file string) (*Seed, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seed.URL = strings.TrimSpace(seed.URL)
	seed.Title = strings.TrimSpace(seed.Title)

	return &seed, nil
}

func validateSeed(seed *Seed) error {
	if seed == nil {
		return fmt.Errorf("seed is nil")
	}

	requiredFields := map[string]string{
		"seed name": seed.Name,
		"feed URL":  seed.URL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	return nil
}

func seedFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to find seed files: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func seedName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isSeedFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yml" || ext == ".yaml"
}
