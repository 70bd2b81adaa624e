package feed

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// ErrNotFeed is returned for bodies that are neither RSS nor Atom.
var ErrNotFeed = errors.New("document is not a feed")

type Parser struct {
	gofeedParser *gofeed.Parser
	sanitizer    *Sanitizer
}

func NewParser(sanitizer *Sanitizer) *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		sanitizer:    sanitizer,
	}
}

// Run parses data fetched from sourceURL. Relative links in items are
// resolved against the feed's own link, itself resolved against sourceURL.
func (p *Parser) Run(data []byte, sourceURL string) (*Metadata, []Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, nil, ErrNotFeed
		}
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	base := feedBase(sourceURL, feed.Link)

	metadata := &Metadata{
		Title: strings.TrimSpace(feed.Title),
		Link:  feed.Link,
	}
	if base != nil && feed.Link != "" {
		metadata.Link = base.String()
	}

	items := make([]Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		items = append(items, p.normalizeItem(item, base))
	}

	return metadata, items, nil
}

func feedBase(sourceURL, feedLink string) *url.URL {
	source, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	if feedLink == "" {
		return source
	}

	link, err := url.Parse(strings.TrimSpace(feedLink))
	if err != nil {
		return source
	}

	return source.ResolveReference(link)
}

func (p *Parser) normalizeItem(item *gofeed.Item, base *url.URL) Item {
	link := canonicalLink(item, base)

	normalized := Item{
		Title:   strings.TrimSpace(item.Title),
		Link:    link,
		Author:  strings.Join(p.extractAuthors(item), ", "),
		Content: p.sanitizer.Sanitize(item.Content, base),
		Summary: p.sanitizer.Sanitize(item.Description, base),
	}

	// Never fabricate a date: fall back to the updated date, else leave it empty.
	if item.PublishedParsed != nil {
		published := item.PublishedParsed.UTC()
		normalized.PublishedAt = &published
	} else if item.UpdatedParsed != nil {
		updated := item.UpdatedParsed.UTC()
		normalized.PublishedAt = &updated
	}

	normalized.GUID = cmp.Or(strings.TrimSpace(item.GUID), link, p.generateContentHash(item))

	return normalized
}

func canonicalLink(item *gofeed.Item, base *url.URL) string {
	raw := strings.TrimSpace(item.Link)
	if raw == "" && len(item.Links) > 0 {
		raw = strings.TrimSpace(item.Links[0])
	}
	if raw == "" {
		return ""
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""

	return ref.String()
}

func (p *Parser) generateContentHash(item *gofeed.Item) string {
	content := fmt.Sprintf("%s|%s",
		item.Title,
		cmp.Or(item.Content, item.Description))

	hash := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(hash[:])
}

func (p *Parser) extractAuthors(item *gofeed.Item) []string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				authorStr := p.formatAuthor(author.Name, author.Email)
				if authorStr != "" {
					authors = append(authors, authorStr)
				}
			}
		}
	} else if item.Author != nil {
		authorStr := p.formatAuthor(item.Author.Name, item.Author.Email)
		if authorStr != "" {
			authors = append(authors, authorStr)
		}
	}

	return authors
}

func (p *Parser) formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}
