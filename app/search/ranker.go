// Package search ranks stored entries against a free-text query by combining
// semantic similarity with literal matching.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/metrics"
	"github.com/lysyi3m/feedhoard/app/textnorm"
	"github.com/lysyi3m/feedhoard/app/vector"
)

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrQueryTooLong = errors.New("query is too long")
	ErrUnavailable  = errors.New("search unavailable")
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	scoreExactTitle = 1.0
	scoreTitleMatch = 0.95
	scoreLiteral    = 0.5
)

type Tier string

const (
	TierExactTitle Tier = "exact_title"
	TierTitleMatch Tier = "title_match"
	TierSemantic   Tier = "semantic"
	TierLiteral    Tier = "literal"
)

// EntryStore is the relational side of search. SearchLiteral is expected to
// match the query after textnorm.Normalize, the same folding rank applies to
// titles.
type EntryStore interface {
	GetEntriesByIDs(ctx context.Context, ids []int64) ([]database.Entry, error)
	SearchLiteral(ctx context.Context, query string, limit int) ([]database.Entry, error)
}

type Options struct {
	TopK           int
	MinSimilarity  float64
	MaxQueryLength int
	LiteralLimit   int
}

type Result struct {
	Entry      database.Entry `json:"entry"`
	Score      float64        `json:"score"`
	Tier       Tier           `json:"tier"`
	Similarity *float64       `json:"similarity,omitempty"`
}

type Response struct {
	Query    string   `json:"query"`
	Results  []Result `json:"results"`
	Degraded []string `json:"degraded,omitempty"`
}

// Ranker runs the semantic and literal paths concurrently and merges them
// into ordered tiers.
type Ranker struct {
	entries  EntryStore
	embedder vector.Embedder
	index    vector.Index
	opts     Options
}

// NewRanker builds a ranker; embedder and index may be nil, in which case
// only literal matching is available.
func NewRanker(entries EntryStore, embedder vector.Embedder, index vector.Index, opts Options) *Ranker {
	return &Ranker{
		entries:  entries,
		embedder: embedder,
		index:    index,
		opts:     opts,
	}
}

type semanticHit struct {
	entry      database.Entry
	similarity float64
}

type candidate struct {
	entry      database.Entry
	similarity *float64
}

func (r *Ranker) Search(ctx context.Context, query string, limit int) (*Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	normalized := textnorm.Normalize(query)
	if normalized == "" {
		return nil, ErrEmptyQuery
	}
	if r.opts.MaxQueryLength > 0 && utf8.RuneCountInString(query) > r.opts.MaxQueryLength {
		return nil, fmt.Errorf("%w: more than %d characters", ErrQueryTooLong, r.opts.MaxQueryLength)
	}

	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	var (
		semantic    []semanticHit
		literal     []database.Entry
		semanticErr error
		literalErr  error
		g           errgroup.Group
	)

	// Each path records its own error so that one failure does not cancel
	// the other.
	g.Go(func() error {
		semantic, semanticErr = r.semanticPath(ctx, query)
		return nil
	})
	g.Go(func() error {
		literal, literalErr = r.entries.SearchLiteral(ctx, normalized, r.opts.LiteralLimit)
		return nil
	})
	g.Wait()

	resp := &Response{Query: query}

	if semanticErr != nil {
		resp.Degraded = append(resp.Degraded, "semantic")
		if r.semanticEnabled() {
			slog.Warn("Semantic search path failed", "error", semanticErr)
		}
	}
	if literalErr != nil {
		resp.Degraded = append(resp.Degraded, "literal")
		slog.Warn("Literal search path failed", "error", literalErr)
	}
	if semanticErr != nil && literalErr != nil {
		metrics.RecordSearch(strings.Join(resp.Degraded, ","), time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(semanticErr, literalErr))
	}

	resp.Results = rank(normalized, semantic, literal, limit)

	metrics.RecordSearch(cmp.Or(strings.Join(resp.Degraded, ","), "none"), time.Since(start))

	return resp, nil
}

var errSemanticDisabled = errors.New("semantic search not configured")

func (r *Ranker) semanticEnabled() bool {
	return r.embedder != nil && r.index != nil
}

func (r *Ranker) semanticPath(ctx context.Context, query string) ([]semanticHit, error) {
	if !r.semanticEnabled() {
		return nil, errSemanticDisabled
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.index.Search(ctx, embedding, r.opts.TopK)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(matches))
	similarity := make(map[int64]float64, len(matches))
	for _, m := range matches {
		if m.Similarity < r.opts.MinSimilarity {
			continue
		}
		ids = append(ids, m.EntryID)
		similarity[m.EntryID] = m.Similarity
	}

	if len(ids) == 0 {
		return nil, nil
	}

	entries, err := r.entries.GetEntriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic matches: %w", err)
	}

	if orphans := len(ids) - len(entries); orphans > 0 {
		slog.Debug("Skipping vectors without entries", "count", orphans)
	}

	hits := make([]semanticHit, 0, len(entries))
	for _, entry := range entries {
		hits = append(hits, semanticHit{entry: entry, similarity: similarity[entry.ID]})
	}

	return hits, nil
}

// rank merges both paths into tiers: exact title matches, then titles that
// contain or are contained in the query, then the remaining semantic matches
// by similarity, then literal-only matches by recency.
func rank(normalizedQuery string, semantic []semanticHit, literal []database.Entry, limit int) []Result {
	candidates := make(map[int64]*candidate, len(semantic)+len(literal))
	order := make([]int64, 0, len(semantic)+len(literal))

	for _, hit := range semantic {
		sim := hit.similarity
		candidates[hit.entry.ID] = &candidate{entry: hit.entry, similarity: &sim}
		order = append(order, hit.entry.ID)
	}
	for _, entry := range literal {
		if _, ok := candidates[entry.ID]; ok {
			continue
		}
		candidates[entry.ID] = &candidate{entry: entry}
		order = append(order, entry.ID)
	}

	var exact, titled, similar, literalOnly []Result
	for _, id := range order {
		c := candidates[id]
		title := textnorm.Normalize(c.entry.Title)

		switch {
		case title != "" && title == normalizedQuery:
			exact = append(exact, Result{Entry: c.entry, Score: scoreExactTitle, Tier: TierExactTitle, Similarity: c.similarity})
		case title != "" && (strings.Contains(title, normalizedQuery) || strings.Contains(normalizedQuery, title)):
			titled = append(titled, Result{Entry: c.entry, Score: scoreTitleMatch, Tier: TierTitleMatch, Similarity: c.similarity})
		case c.similarity != nil:
			similar = append(similar, Result{Entry: c.entry, Score: *c.similarity, Tier: TierSemantic, Similarity: c.similarity})
		default:
			literalOnly = append(literalOnly, Result{Entry: c.entry, Score: scoreLiteral, Tier: TierLiteral})
		}
	}

	slices.SortStableFunc(exact, byRecency)
	slices.SortStableFunc(titled, byRecency)
	slices.SortStableFunc(similar, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return byRecency(a, b)
	})
	slices.SortStableFunc(literalOnly, byRecency)

	results := make([]Result, 0, min(limit, len(order)))
	for _, tier := range [][]Result{exact, titled, similar, literalOnly} {
		for _, res := range tier {
			if len(results) == limit {
				return results
			}
			results = append(results, res)
		}
	}

	return results
}

func byRecency(a, b Result) int {
	if c := b.Entry.Recency().Compare(a.Entry.Recency()); c != 0 {
		return c
	}
	return cmp.Compare(b.Entry.ID, a.Entry.ID)
}
