// Package rss provides feed fetching, ingestion and scheduled polling.
package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of feeds polled in parallel on PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// ErrNoEntries is returned by Validate for feeds that yield nothing.
var ErrNoEntries = errors.New("feed has no entries")

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
	delay       time.Duration
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		delay:       delay,
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if lastReq.IsZero() {
		return nil
	}
	if wait := dl.delay - time.Since(lastReq); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			<-sem
			return ctx.Err()
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	return u.Host
}

// Fetcher downloads and normalizes remote feed documents.
type Fetcher struct {
	parser        *gofeed.Parser
	timeout       time.Duration
	domainLimiter *domainLimiter
	logger        *zap.Logger
}

// NewFetcher creates a fetcher. A zero timeout disables the per-fetch deadline.
func NewFetcher(client *http.Client, userAgent string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &Fetcher{
		parser:        parser,
		timeout:       timeout,
		domainLimiter: newDomainLimiter(DelayBetweenDomainRequests),
		logger:        logger.Named("fetcher"),
	}
}

// Parse fetches a feed and converts its items, in document order, to entries
// owned by feed. Items without a link are dropped.
func (f *Fetcher) Parse(ctx context.Context, feed model.Feed) ([]model.FeedEntry, error) {
	domain := extractDomain(feed.URL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", feed.URL, err)
	}
	defer f.domainLimiter.release(domain)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	parsed, err := f.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	items := lo.Filter(parsed.Items, func(item *gofeed.Item, _ int) bool {
		return item != nil && item.Link != ""
	})
	return lo.Map(items, func(item *gofeed.Item, _ int) model.FeedEntry {
		return toEntry(feed.ID(), item)
	}), nil
}

// Validate checks that the feed yields at least one entry.
func (f *Fetcher) Validate(ctx context.Context, feed model.Feed) error {
	entries, err := f.Parse(ctx, feed)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrNoEntries
	}
	return nil
}

func toEntry(feedID string, item *gofeed.Item) model.FeedEntry {
	published, updated := epoch(item.PublishedParsed), epoch(item.UpdatedParsed)
	if published == 0 {
		published = updated
	}
	if updated == 0 {
		updated = published
	}

	preview := item.Description
	if preview == "" {
		preview = item.Content
	}

	authors := lo.FilterMap(item.Authors, func(p *gofeed.Person, _ int) (string, bool) {
		if p == nil || p.Name == "" {
			return "", false
		}
		return p.Name, true
	})

	return model.FeedEntry{
		FeedID:      feedID,
		Title:       item.Title,
		URL:         item.Link,
		PublishedAt: published,
		UpdatedAt:   updated,
		Authors:     authors,
		Preview:     preview,
		Content:     item.Content,
	}
}

func epoch(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.Unix()
}
