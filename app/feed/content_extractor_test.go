package feed

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
)

const articleHTML = `
<!DOCTYPE html>
<html>
<head>
	<title>Test Article</title>
</head>
<body>
	<header>
		<h1>Site Header</h1>
		<nav>Navigation</nav>
	</header>
	<main>
		<article>
			<h1>Main Article Title</h1>
			<p>This is the main content of the article. It contains several paragraphs of meaningful text that should be extracted by the readability algorithm.</p>
			<p>This is another paragraph with more content. The readability algorithm should identify this as the main content area and extract it properly.</p>
			<p>Here is some more substantial content to ensure we meet the character threshold. This paragraph adds more context and information that would be valuable to readers.</p>
			<p><a href="/related">Related reading</a></p>
			<script>track()</script>
		</article>
	</main>
	<footer>
		<p>Copyright 2024</p>
	</footer>
</body>
</html>
`

type stubPages struct {
	data []byte
	err  error
	urls []string
}

func (s *stubPages) FetchPage(_ context.Context, rawURL string) ([]byte, error) {
	s.urls = append(s.urls, rawURL)
	return s.data, s.err
}

func TestContentExtractorRun(t *testing.T) {
	extractor := NewContentExtractor(&stubPages{}, NewSanitizer())
	base, _ := url.Parse("https://example.com/posts/1")

	result, err := extractor.Run([]byte(articleHTML), base)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result, "main content of the article") {
		t.Errorf("Expected extracted content to contain main article text")
	}
}

func TestContentExtractorRunEmpty(t *testing.T) {
	extractor := NewContentExtractor(&stubPages{}, NewSanitizer())

	if _, err := extractor.Run(nil, nil); err == nil {
		t.Error("Expected error for empty HTML data")
	}
}

func TestContentExtractorExtractSanitizes(t *testing.T) {
	pages := &stubPages{data: []byte(articleHTML)}
	extractor := NewContentExtractor(pages, NewSanitizer())

	result, err := extractor.Extract(context.Background(), "https://example.com/posts/1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(pages.urls) != 1 || pages.urls[0] != "https://example.com/posts/1" {
		t.Errorf("Unexpected fetched urls: %v", pages.urls)
	}
	if strings.Contains(result, "track()") {
		t.Errorf("Expected scripts to be removed, got: %s", result)
	}
	if !strings.Contains(result, "main content of the article") {
		t.Errorf("Expected article text to survive sanitation, got: %s", result)
	}
}

func TestContentExtractorExtractFetchError(t *testing.T) {
	pages := &stubPages{err: errors.New("boom")}
	extractor := NewContentExtractor(pages, NewSanitizer())

	if _, err := extractor.Extract(context.Background(), "https://example.com/posts/1"); err == nil {
		t.Error("Expected fetch error to propagate")
	}
}
