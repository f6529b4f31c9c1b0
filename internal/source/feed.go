package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	feedTimeout    = 30 * time.Second
	feedUserAgent  = "Mozilla/5.0 (compatible; pollmark/1.0)"
	feedMaxRetries = 3
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
	trailingIDRe = regexp.MustCompile(`/(\d+)/?$`)
)

// FeedClient reads a public account feed (RSS or Atom), such as the
// /@user.rss feed a Mastodon server publishes per account. Item identifiers
// come from the numeric last path segment of each entry's GUID or link.
//
// Feeds only carry the account's own posts, so only HomeTimeline is served.
type FeedClient struct {
	feedURL string
	account string
	client  *http.Client
}

// NewFeed creates a feed client. account is used as the profile identifier;
// when empty the feed URL is used instead.
func NewFeed(feedURL, account string, timeout time.Duration) (*FeedClient, error) {
	if strings.TrimSpace(feedURL) == "" {
		return nil, errors.New("feed: url is required")
	}
	if timeout <= 0 {
		timeout = feedTimeout
	}
	return &FeedClient{
		feedURL: feedURL,
		account: strings.TrimSpace(account),
		client: &http.Client{
			Timeout:   timeout,
			Transport: &feedTransport{base: http.DefaultTransport},
		},
	}, nil
}

func (f *FeedClient) ProfileID(_ context.Context) (string, error) {
	if f.account != "" {
		return f.account, nil
	}
	return f.feedURL, nil
}

func (f *FeedClient) HomeTimeline(ctx context.Context, sinceID int64) ([]Status, error) {
	feed, err := f.fetchWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	return statusesFromFeed(feed, f.account, sinceID), nil
}

func (f *FeedClient) Mentions(context.Context, int64) ([]Status, error) {
	return nil, fmt.Errorf("feed: mentions: %w", ErrUnsupportedOperation)
}

func (f *FeedClient) DirectMessages(context.Context, int64) ([]DirectMessage, error) {
	return nil, fmt.Errorf("feed: direct messages: %w", ErrUnsupportedOperation)
}

// RateLimitStatus is always unknown; feeds do not report a budget.
func (f *FeedClient) RateLimitStatus(context.Context, Endpoint) (RateLimitStatus, error) {
	return RateLimitStatus{}, nil
}

// feedTransport injects a User-Agent header into every request.
type feedTransport struct {
	base http.RoundTripper
}

func (t *feedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", feedUserAgent)
	return t.base.RoundTrip(req)
}

// feedSleepFunc is the function used for retry backoff delays.
// Tests override it.
var feedSleepFunc = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (f *FeedClient) fetchWithRetry(ctx context.Context) (*gofeed.Feed, error) {
	var lastErr error
	for attempt := range feedMaxRetries {
		feed, err := f.fetch(ctx)
		if err == nil {
			return feed, nil
		}
		if !isRetryableFeedError(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < feedMaxRetries-1 {
			feedSleepFunc(ctx, time.Duration(1<<uint(attempt))*time.Second) // 1s, 2s
		}
	}
	return nil, lastErr
}

func (f *FeedClient) fetch(ctx context.Context) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = f.client
	feed, err := fp.ParseURLWithContext(f.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", f.feedURL, err)
	}
	return feed, nil
}

func isRetryableFeedError(err error) bool {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	s := err.Error()
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "Timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "no such host")
}

func statusesFromFeed(feed *gofeed.Feed, account string, sinceID int64) []Status {
	var statuses []Status
	for _, item := range feed.Items {
		id, ok := feedItemID(item)
		if !ok || id <= sinceID {
			continue
		}
		createdAt := feedItemTime(item)
		if createdAt.IsZero() {
			continue
		}
		author := account
		if author == "" && item.Author != nil {
			author = item.Author.Name
		}
		statuses = append(statuses, Status{
			ID:        id,
			Text:      feedItemText(item),
			Author:    author,
			URL:       item.Link,
			CreatedAt: createdAt,
		})
	}
	return statuses
}

func feedItemID(item *gofeed.Item) (int64, bool) {
	for _, candidate := range []string{item.GUID, item.Link} {
		m := trailingIDRe.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func feedItemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func feedItemText(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}
	text := stripHTML(raw)
	if text == "" {
		text = item.Title
	}
	return text
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
