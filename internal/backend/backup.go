package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/config"
	"github.com/bryan-buckman/rssynthesis/internal/database"
	"github.com/bryan-buckman/rssynthesis/internal/model"
	"github.com/bryan-buckman/rssynthesis/internal/opml"
)

// BackupDocument is the full stored state. Entries and content are keyed by
// feed ID; content is further keyed by entry ID.
type BackupDocument struct {
	Settings        model.GlobalSettings                     `json:"settings"`
	Handlers        map[string]json.RawMessage               `json:"handlers"`
	Feeds           []model.Feed                             `json:"feeds"`
	FeedEntries     map[string][]model.FeedEntry             `json:"feed_entries"`
	EntryContent    map[string]map[string]model.EntryContent `json:"entry_content"`
	PollState       map[string]int64                         `json:"poll_state"`
	StartTimestamps map[string]int64                         `json:"start_timestamps"`
}

// Backup exports everything in storage. Content that was never retrieved is
// left out rather than fetched.
func (b *Backend) Backup(ctx context.Context) (BackupDocument, error) {
	doc := BackupDocument{
		Settings:        b.store.Settings(ctx),
		FeedEntries:     make(map[string][]model.FeedEntry),
		EntryContent:    make(map[string]map[string]model.EntryContent),
		PollState:       make(map[string]int64),
		StartTimestamps: make(map[string]int64),
	}

	var err error
	if doc.Handlers, err = b.store.HandlerConfigs(ctx); err != nil {
		return BackupDocument{}, err
	}
	if doc.Feeds, err = b.store.Feeds(ctx); err != nil {
		return BackupDocument{}, err
	}

	for _, feed := range doc.Feeds {
		id := feed.ID()

		entries, err := b.store.FeedEntries(ctx, database.EntryFilter{FeedID: id})
		if err != nil {
			return BackupDocument{}, err
		}
		doc.FeedEntries[id] = entries

		contents := make(map[string]model.EntryContent)
		for _, entry := range entries {
			content, err := b.store.EntryContent(ctx, entry.ID())
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			if err != nil {
				return BackupDocument{}, err
			}
			contents[entry.ID()] = content
		}
		doc.EntryContent[id] = contents

		if ts, ok, err := b.store.PollState(ctx, id); err != nil {
			return BackupDocument{}, err
		} else if ok {
			doc.PollState[id] = ts
		}
		if ts, ok, err := b.store.StartTimestamp(ctx, id); err != nil {
			return BackupDocument{}, err
		} else if ok {
			doc.StartTimestamps[id] = ts
		}
	}
	return doc, nil
}

// Restore merges a backup into storage and marks onboarding finished.
func (b *Backend) Restore(ctx context.Context, doc BackupDocument) error {
	registry := b.store.Registry()
	for key, raw := range doc.Handlers {
		h, err := registry.Restore(key, raw)
		if err != nil {
			return err
		}
		if err := b.store.UpsertHandler(ctx, h); err != nil {
			return err
		}
	}

	settings := doc.Settings
	settings.FinishedOnboarding = true
	if err := b.UpdateSettings(ctx, settings); err != nil {
		return err
	}

	for _, feed := range doc.Feeds {
		if err := b.store.UpsertFeed(ctx, feed); err != nil {
			return err
		}
	}
	for _, entries := range doc.FeedEntries {
		for _, entry := range entries {
			if err := b.store.UpsertFeedEntry(ctx, entry); err != nil {
				return err
			}
		}
	}
	for _, contents := range doc.EntryContent {
		for _, content := range contents {
			if err := b.store.UpsertEntryContent(ctx, content); err != nil {
				return err
			}
		}
	}
	for id, ts := range doc.PollState {
		if err := b.store.UpdatePollState(ctx, id, ts); err != nil {
			return err
		}
	}
	for id, ts := range doc.StartTimestamps {
		if err := b.store.SetStartTimestamp(ctx, id, ts); err != nil {
			return err
		}
	}

	b.logger.Info("restored backup",
		zap.Int("feeds", len(doc.Feeds)),
		zap.Int("handlers", len(doc.Handlers)),
	)
	return nil
}

// LoadConfig applies the declarative startup state: handlers first, then
// settings, then feeds. Feeds are stored without fetching them.
func (b *Backend) LoadConfig(ctx context.Context, d config.Declarative) error {
	for key, raw := range d.Handlers {
		if err := b.UpdateHandler(ctx, key, raw); err != nil {
			return fmt.Errorf("load handler: %w", err)
		}
	}

	if d.Settings != nil {
		settings := *d.Settings
		settings.FinishedOnboarding = settings.FinishedOnboarding || b.store.Settings(ctx).FinishedOnboarding
		if err := b.UpdateSettings(ctx, settings); err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
	}

	var errs error
	for _, feed := range d.Feeds {
		if feed.URL == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: feed %q has no url", ErrInvalidFeed, feed.Name))
			continue
		}
		errs = multierr.Append(errs, b.store.UpsertFeed(ctx, feed))
	}
	if errs != nil {
		return fmt.Errorf("load feeds: %w", errs)
	}

	b.logger.Info("loaded config",
		zap.Int("feeds", len(d.Feeds)),
		zap.Int("handlers", len(d.Handlers)),
		zap.Bool("settings", d.Settings != nil),
	)
	return nil
}

// --- OPML ---

// ExportOPML renders every feed as OPML grouped by category.
func (b *Backend) ExportOPML(ctx context.Context) ([]byte, error) {
	feeds, err := b.store.Feeds(ctx)
	if err != nil {
		return nil, err
	}
	return opml.Export("rssynthesis feeds", feeds, b.now())
}

// ImportOPML adds the feeds of an OPML document with default flags and marks
// onboarding finished. Existing feeds with the same url are replaced.
func (b *Backend) ImportOPML(ctx context.Context, r io.Reader) (int, error) {
	feeds, err := opml.Parse(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	for _, feed := range feeds {
		if err := b.store.UpsertFeed(ctx, feed); err != nil {
			return 0, err
		}
	}
	if err := b.finishOnboarding(ctx); err != nil {
		return 0, err
	}
	b.logger.Info("imported opml", zap.Int("feeds", len(feeds)))
	return len(feeds), nil
}

// DecodeBackup reads a backup document. Missing settings decode as defaults.
func DecodeBackup(r io.Reader) (BackupDocument, error) {
	doc := BackupDocument{Settings: model.DefaultSettings()}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return BackupDocument{}, fmt.Errorf("decode backup: %w", err)
	}
	return doc, nil
}
