// Package index turns stored entries into vectors in the semantic index.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/feedhoard/app/database"
	"github.com/lysyi3m/feedhoard/app/feed"
	"github.com/lysyi3m/feedhoard/app/metrics"
	"github.com/lysyi3m/feedhoard/app/vector"
)

// Indexer embeds entry text and writes it to the vector index. The zero
// value, or one built without an embedder or index, is disabled.
type Indexer struct {
	embedder vector.Embedder
	index    vector.Index
	maxChars int
}

func NewIndexer(embedder vector.Embedder, index vector.Index, maxChars int) *Indexer {
	return &Indexer{
		embedder: embedder,
		index:    index,
		maxChars: maxChars,
	}
}

func (i *Indexer) Enabled() bool {
	return i != nil && i.embedder != nil && i.index != nil
}

// BatchResult reports per-entry failures of IndexBatch.
type BatchResult struct {
	Indexed int
	Failed  map[int64]error
}

// Index embeds one entry and upserts its vector.
func (i *Indexer) Index(ctx context.Context, entry database.Entry) error {
	if !i.Enabled() {
		return nil
	}

	vectors, err := i.embedder.EmbedDocuments(ctx, []string{i.Text(entry)})
	if err != nil {
		return err
	}
	if len(vectors) != 1 {
		return fmt.Errorf("failed to embed entry %d: got %d vectors", entry.ID, len(vectors))
	}

	return i.store(ctx, entry.ID, vectors[0])
}

// IndexBatch embeds entries in one request when possible and falls back to
// one request per entry when the batch call fails. It never stops at the
// first failure.
func (i *Indexer) IndexBatch(ctx context.Context, entries []database.Entry) BatchResult {
	result := BatchResult{Failed: make(map[int64]error)}
	if !i.Enabled() || len(entries) == 0 {
		return result
	}

	texts := make([]string, len(entries))
	for n, entry := range entries {
		texts[n] = i.Text(entry)
	}

	vectors, err := i.embedder.EmbedDocuments(ctx, texts)
	if err != nil || len(vectors) != len(entries) {
		slog.Debug("Batch embedding failed, indexing entries one by one", "count", len(entries), "error", err)

		for _, entry := range entries {
			if err := i.Index(ctx, entry); err != nil {
				i.fail(&result, entry, err)
				continue
			}
			i.succeed(&result)
		}
		return result
	}

	for n, entry := range entries {
		if err := i.store(ctx, entry.ID, vectors[n]); err != nil {
			i.fail(&result, entry, err)
			continue
		}
		i.succeed(&result)
	}

	return result
}

// Delete removes vectors of deleted entries.
func (i *Indexer) Delete(ctx context.Context, entryIDs []int64) error {
	if !i.Enabled() || len(entryIDs) == 0 {
		return nil
	}
	return i.index.Delete(ctx, entryIDs)
}

// Text is the string embedded for an entry: title, a blank line, then the
// plain text of the content (the summary when there is no content).
func (i *Indexer) Text(entry database.Entry) string {
	plain := feed.PlainText(entry.Content)
	if plain == "" {
		plain = feed.PlainText(entry.Summary)
	}

	text := strings.TrimSpace(entry.Title)
	if plain != "" {
		if text != "" {
			text += "\n\n"
		}
		text += plain
	}

	return truncateRunes(text, i.maxChars)
}

func (i *Indexer) store(ctx context.Context, entryID int64, embedding []float32) error {
	if dims := i.index.Dimensions(); len(embedding) != dims {
		return fmt.Errorf("%w: entry %d got %d, want %d", vector.ErrDimensionMismatch, entryID, len(embedding), dims)
	}
	return i.index.Upsert(ctx, entryID, embedding)
}

func (i *Indexer) succeed(result *BatchResult) {
	result.Indexed++
	metrics.RecordIndex(true)
}

func (i *Indexer) fail(result *BatchResult, entry database.Entry, err error) {
	result.Failed[entry.ID] = err
	metrics.RecordIndex(false)
	slog.Warn("Failed to index entry", "source_id", entry.SourceID, "entry_id", entry.ID, "error", err)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}

	count := 0
	for idx := range s {
		if count == max {
			return s[:idx]
		}
		count++
	}
	return s
}
