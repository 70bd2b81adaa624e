package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	MaxFeedSize = 10 << 20
	MaxPageSize = 5 << 20

	minRetryAfter = time.Second
	maxRetryAfter = 6 * time.Hour

	maxRedirects = 10
)

const acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

// Fetcher performs one guarded, conditional fetch of a feed and classifies
// the outcome.
type Fetcher struct {
	client    *http.Client
	guard     *URLGuard
	limiter   *HostLimiter
	parser    *Parser
	userAgent string
	timeout   time.Duration
}

func NewFetcher(guard *URLGuard, limiter *HostLimiter, parser *Parser, userAgent string, timeout time.Duration) *Fetcher {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   guard.DialControl,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if err := guard.ValidateURL(req.Context(), req.URL); err != nil {
				return fmt.Errorf("redirect rejected: %w", err)
			}
			return nil
		},
	}

	return &Fetcher{
		client:    client,
		guard:     guard,
		limiter:   limiter,
		parser:    parser,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) FetchResult {
	u, err := f.guard.Validate(ctx, req.URL)
	if err != nil {
		if errors.Is(err, ErrBlockedURL) {
			return permanent(0, err.Error())
		}
		return transient(0, err.Error())
	}

	if err := f.limiter.Wait(ctx, u.Host); err != nil {
		return transient(0, fmt.Sprintf("host pacing interrupted: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return permanent(0, fmt.Sprintf("failed to create request: %v", err))
	}

	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", acceptHeader)
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, ErrBlockedURL) {
			return permanent(0, err.Error())
		}
		return transient(0, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	code := resp.StatusCode

	switch {
	case code == http.StatusNotModified:
		return FetchResult{Status: FetchUnchanged, StatusCode: code}

	case code >= 200 && code < 300:
		return f.parseBody(resp, u.String())

	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		if delay, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return FetchResult{
				Status:     FetchRateLimited,
				StatusCode: code,
				RetryAfter: delay,
				Reason:     fmt.Sprintf("HTTP %d, retry after %s", code, delay),
			}
		}
		return transient(code, fmt.Sprintf("HTTP %d", code))

	case code == http.StatusRequestTimeout || code == http.StatusTooEarly || code >= 500:
		return transient(code, fmt.Sprintf("HTTP %d", code))

	case code >= 400:
		return permanent(code, fmt.Sprintf("HTTP %d", code))

	default:
		return transient(code, fmt.Sprintf("unexpected HTTP %d", code))
	}
}

func (f *Fetcher) parseBody(resp *http.Response, sourceURL string) FetchResult {
	code := resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFeedSize+1))
	if err != nil {
		return transient(code, fmt.Sprintf("failed to read body: %v", err))
	}
	if len(data) > MaxFeedSize {
		return permanent(code, fmt.Sprintf("feed exceeds %d bytes", MaxFeedSize))
	}

	metadata, items, err := f.parser.Run(data, sourceURL)
	if err != nil {
		return permanent(code, err.Error())
	}

	return FetchResult{
		Status:       FetchSuccess,
		StatusCode:   code,
		Metadata:     metadata,
		Items:        items,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}

// FetchPage downloads an HTML page through the same guarded client.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := f.guard.Validate(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if err := f.limiter.Wait(ctx, u.Host); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch page: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	return data, nil
}

// ParseRetryAfter reads a Retry-After value in delta-seconds or HTTP-date
// form and clamps it to a sane window.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var delay time.Duration
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		if secs > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter, true
		}
		delay = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		delay = at.Sub(now)
	} else {
		return 0, false
	}

	return min(max(delay, minRetryAfter), maxRetryAfter), true
}

func transient(code int, reason string) FetchResult {
	return FetchResult{Status: FetchTransient, StatusCode: code, Reason: reason}
}

func permanent(code int, reason string) FetchResult {
	return FetchResult{Status: FetchPermanent, StatusCode: code, Reason: reason}
}
