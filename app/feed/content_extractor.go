package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-shiori/go-readability"
)

type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) ([]byte, error)
}

// ContentExtractor pulls the main article out of an entry's web page.
type ContentExtractor struct {
	pages     PageFetcher
	sanitizer *Sanitizer
}

func NewContentExtractor(pages PageFetcher, sanitizer *Sanitizer) *ContentExtractor {
	return &ContentExtractor{
		pages:     pages,
		sanitizer: sanitizer,
	}
}

// Extract fetches pageURL and returns its sanitized article HTML.
func (e *ContentExtractor) Extract(ctx context.Context, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}

	data, err := e.pages.FetchPage(ctx, pageURL)
	if err != nil {
		return "", err
	}

	content, err := e.Run(data, base)
	if err != nil {
		return "", err
	}

	return e.sanitizer.Sanitize(content, base), nil
}

func (e *ContentExtractor) Run(data []byte, pageURL *url.URL) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	if article.Content == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}

	slog.Debug("Content extracted successfully",
		"title", article.Title,
		"content_length", len(article.Content))

	return article.Content, nil
}
