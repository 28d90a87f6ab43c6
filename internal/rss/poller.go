package rss

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/database"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// DefaultColdStartEntries bounds the first poll of a feed.
const DefaultColdStartEntries = 5

// Source yields the current entries of a feed.
type Source interface {
	Parse(ctx context.Context, feed model.Feed) ([]model.FeedEntry, error)
}

// Option configures a Poller.
type Option func(*Poller)

// WithColdStartEntries sets how many entries the first poll of a feed considers.
func WithColdStartEntries(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.coldStart = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// Poller ingests new entries of feeds into the store.
type Poller struct {
	store       database.Store
	source      Source
	logger      *zap.Logger
	coldStart   int
	concurrency int
	now         func() time.Time
	locks       *feedLocks
}

// NewPoller creates a poller. Feeds are polled one at a time unless the store
// supports concurrent writers.
func NewPoller(store database.Store, source Source, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		store:       store,
		source:      source,
		logger:      logger.Named("poller"),
		coldStart:   DefaultColdStartEntries,
		concurrency: 1,
		now:         time.Now,
		locks:       newFeedLocks(),
	}
	if store.SupportsHighConcurrency() {
		p.concurrency = MaxConcurrencyPostgres
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckFeeds polls every feed with refresh enabled and returns the number of
// new entries per feed ID. One feed failing does not stop the others.
func (p *Poller) CheckFeeds(ctx context.Context) (map[string]int, error) {
	feeds, err := p.store.Feeds(ctx)
	if err != nil {
		return nil, err
	}
	feeds = lo.Filter(feeds, func(f model.Feed, _ int) bool { return f.RefreshEnabled })

	p.logger.Info("checking feeds", zap.Int("feeds", len(feeds)), zap.Int("concurrency", p.concurrency))

	if p.concurrency <= 1 {
		return p.checkSequential(ctx, feeds)
	}
	return p.checkParallel(ctx, feeds), nil
}

func (p *Poller) checkSequential(ctx context.Context, feeds []model.Feed) (map[string]int, error) {
	results := make(map[string]int, len(feeds))
	for i, feed := range feeds {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("poll cycle cancelled", zap.Int("done", i), zap.Int("feeds", len(feeds)))
			return results, err
		}

		n, err := p.checkFeed(ctx, feed)
		if err != nil {
			p.logger.Error("checking feed failed", zap.String("feed_id", feed.ID()), zap.String("url", feed.URL), zap.Error(err))
			continue
		}
		results[feed.ID()] = n
	}
	return results, nil
}

type checkResult struct {
	feedID string
	count  int
	err    error
}

func (p *Poller) checkParallel(ctx context.Context, feeds []model.Feed) map[string]int {
	var wg sync.WaitGroup
	feedChan := make(chan model.Feed)
	resultChan := make(chan checkResult, len(feeds))

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range feedChan {
				n, err := p.checkFeed(ctx, feed)
				resultChan <- checkResult{feedID: feed.ID(), count: n, err: err}
			}
		}()
	}

	go func() {
		defer close(feedChan)
		for _, feed := range feeds {
			select {
			case <-ctx.Done():
				return
			case feedChan <- feed:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make(map[string]int, len(feeds))
	for r := range resultChan {
		if r.err != nil {
			p.logger.Error("checking feed failed", zap.String("feed_id", r.feedID), zap.Error(r.err))
			continue
		}
		results[r.feedID] = r.count
	}
	return results
}

// CheckFeed polls a single feed regardless of its refresh flag.
func (p *Poller) CheckFeed(ctx context.Context, id string) (int, error) {
	feed, err := p.store.Feed(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.checkFeed(ctx, feed)
}

func (p *Poller) checkFeed(ctx context.Context, feed model.Feed) (int, error) {
	id := feed.ID()
	defer p.locks.lock(id)()

	log := p.logger.With(zap.String("feed_id", id), zap.String("feed", feed.Name))
	now := p.now().Unix()

	entries, err := p.source.Parse(ctx, feed)
	if err != nil {
		log.Warn("fetching feed failed, treating as empty", zap.Error(err))
		entries = nil
	}

	_, polled, err := p.store.PollState(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("read poll state: %w", err)
	}

	var startTS int64
	if !polled {
		if len(entries) > p.coldStart {
			entries = entries[:p.coldStart]
		}
		startTS = lo.Min(append(lo.Map(entries, func(e model.FeedEntry, _ int) int64 { return e.PublishedAt }), now))
		if err := p.store.SetStartTimestamp(ctx, id, startTS); err != nil {
			return 0, fmt.Errorf("store start timestamp: %w", err)
		}
		log.Info("cold start", zap.Int("entries", len(entries)), zap.Int64("start_ts", startTS))
	} else {
		startTS, _, err = p.store.StartTimestamp(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("read start timestamp: %w", err)
		}
	}

	added := 0
	for _, entry := range entries {
		if entry.PublishedAt < startTS {
			continue
		}
		exists, err := p.store.FeedEntryExists(ctx, entry.ID())
		if err != nil {
			log.Error("checking entry failed", zap.String("entry_id", entry.ID()), zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		if err := p.AddFeedEntry(ctx, feed, entry); err != nil {
			log.Error("adding entry failed", zap.String("entry_id", entry.ID()), zap.Error(err))
			continue
		}
		added++
	}

	if err := p.store.UpdatePollState(ctx, id, now); err != nil {
		return added, fmt.Errorf("store poll state: %w", err)
	}

	if added > 0 {
		log.Info("feed checked", zap.Int("new", added))
	}
	return added, nil
}

// AddFeedEntry stores entry, retrieves its content unless the feed is
// preview-only, then notifies when both the feed and the settings allow it.
// A content failure does not prevent the notification.
func (p *Poller) AddFeedEntry(ctx context.Context, feed model.Feed, entry model.FeedEntry) error {
	log := p.logger.With(zap.String("feed_id", feed.ID()), zap.String("entry_id", entry.ID()))

	if err := p.store.UpsertFeedEntry(ctx, entry); err != nil {
		return fmt.Errorf("store entry: %w", err)
	}

	if !feed.PreviewOnly {
		if _, err := p.store.GetEntryContent(ctx, entry, false); err != nil {
			log.Warn("retrieving content failed", zap.Error(err))
		}
	}

	settings := p.store.Settings(ctx)
	if !feed.Notify || !settings.SendNotification {
		log.Debug("notification skipped", zap.Bool("feed_notify", feed.Notify), zap.Bool("send_notification", settings.SendNotification))
		return nil
	}

	active, err := database.ActiveHandlers(ctx, p.store)
	if err != nil {
		return fmt.Errorf("resolve notifier: %w", err)
	}
	if err := active.Notifier.SendNotification(ctx, feed, entry); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// feedLocks serializes polls of the same feed.
type feedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFeedLocks() *feedLocks {
	return &feedLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *feedLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
