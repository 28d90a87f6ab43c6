// Package database provides storage backends for the RSS reader.
package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

var (
	// ErrNotFound is returned when a feed, entry, content or handler ID is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned by InsertFeed when the feed ID already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)

// EntryFilter narrows FeedEntries. Zero values match everything.
type EntryFilter struct {
	FeedID string
	// After keeps entries with published_at strictly greater than *After.
	After *int64
}

// Store defines the interface for database operations.
// The SQLite, PostgreSQL and hybrid backends all satisfy it with identical behavior.
type Store interface {
	Close() error

	// Kind returns the backend name ("sqlite", "postgres" or "hybrid").
	Kind() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	SupportsHighConcurrency() bool

	// Registry returns the handler registry used to rebuild stored handlers.
	Registry() *handler.Registry

	// Feed operations
	ClearFeeds(ctx context.Context) error
	UpsertFeed(ctx context.Context, feed model.Feed) error
	InsertFeed(ctx context.Context, feed model.Feed) error
	Feed(ctx context.Context, id string) (model.Feed, error)
	Feeds(ctx context.Context) ([]model.Feed, error)
	DeleteFeed(ctx context.Context, id string) error

	// Poll state operations
	PollState(ctx context.Context, feedID string) (int64, bool, error)
	UpdatePollState(ctx context.Context, feedID string, ts int64) error
	StartTimestamp(ctx context.Context, feedID string) (int64, bool, error)
	SetStartTimestamp(ctx context.Context, feedID string, ts int64) error

	// Entry operations
	UpsertFeedEntry(ctx context.Context, entry model.FeedEntry) error
	FeedEntries(ctx context.Context, filter EntryFilter) ([]model.FeedEntry, error)
	EntryCounts(ctx context.Context) (map[string]int, error)
	FeedEntry(ctx context.Context, id string) (model.FeedEntry, error)
	FeedEntryExists(ctx context.Context, id string) (bool, error)
	DeleteFeedEntry(ctx context.Context, id string) error

	// Content operations
	UpsertEntryContent(ctx context.Context, content model.EntryContent) error
	EntryContent(ctx context.Context, id string) (model.EntryContent, error)
	EntryContentExists(ctx context.Context, id string) (bool, error)
	DeleteEntryContent(ctx context.Context, id string) error
	GetEntryContent(ctx context.Context, entry model.FeedEntry, redrive bool) (model.EntryContent, error)

	// Handler operations
	UpsertHandler(ctx context.Context, h handler.Handler) error
	Handler(ctx context.Context, id string) (handler.Handler, error)
	HandlerConfigs(ctx context.Context) (map[string]json.RawMessage, error)

	// Settings operations
	Settings(ctx context.Context) model.GlobalSettings
	UpsertSettings(ctx context.Context, settings model.GlobalSettings) error
}
