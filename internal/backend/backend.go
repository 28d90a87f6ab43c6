// Package backend implements the caller-facing operations behind the HTTP API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/database"
	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

var (
	// ErrInvalidFeed is returned when a feed yields no entries at save time.
	ErrInvalidFeed = errors.New("invalid feed")
	// ErrInvalidSettings is returned for settings rejected before persistence.
	ErrInvalidSettings = errors.New("invalid settings")
)

// FeedValidator checks that a feed yields entries.
type FeedValidator interface {
	Validate(ctx context.Context, feed model.Feed) error
}

// Refresher polls feeds on demand.
type Refresher interface {
	CheckFeed(ctx context.Context, id string) (int, error)
	CheckFeeds(ctx context.Context) (map[string]int, error)
}

// Backend wires the store, the feed validator and the poller into the
// operations exposed to users.
type Backend struct {
	store     database.Store
	validator FeedValidator
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time

	settingsHooks []func(model.GlobalSettings)
}

// New creates a backend.
func New(store database.Store, validator FeedValidator, refresher Refresher, logger *zap.Logger) *Backend {
	return &Backend{
		store:     store,
		validator: validator,
		refresher: refresher,
		logger:    logger.Named("backend"),
		now:       time.Now,
	}
}

// OnSettingsChange registers fn to run after settings are saved.
func (b *Backend) OnSettingsChange(fn func(model.GlobalSettings)) {
	b.settingsHooks = append(b.settingsHooks, fn)
}

// --- Health ---

// Health is the liveness response.
type Health struct {
	Status string `json:"status"`
}

// About describes the running build.
type About struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Storage   string `json:"storage_handler"`
}

// Health reports liveness.
func (b *Backend) Health() Health {
	return Health{Status: "ok"}
}

// About reports build and storage information.
func (b *Backend) About() About {
	version := "(devel)"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	return About{Version: version, GoVersion: runtime.Version(), Storage: b.store.Kind()}
}

// --- Feeds ---

// FeedSummary is a feed in listings.
type FeedSummary struct {
	ID string `json:"id"`
	model.Feed
	EntryCount *int `json:"entry_count,omitempty"`
}

// ListFeeds returns all feeds, with entry counts when withCounts is set.
func (b *Backend) ListFeeds(ctx context.Context, withCounts bool) ([]FeedSummary, error) {
	feeds, err := b.store.Feeds(ctx)
	if err != nil {
		return nil, err
	}

	var counts map[string]int
	if withCounts {
		if counts, err = b.store.EntryCounts(ctx); err != nil {
			return nil, err
		}
	}

	return lo.Map(feeds, func(f model.Feed, _ int) FeedSummary {
		s := FeedSummary{ID: f.ID(), Feed: f}
		if withCounts {
			s.EntryCount = lo.ToPtr(counts[s.ID])
		}
		return s
	}), nil
}

// FeedConfig returns one feed.
func (b *Backend) FeedConfig(ctx context.Context, id string) (FeedSummary, error) {
	feed, err := b.store.Feed(ctx, id)
	if err != nil {
		return FeedSummary{}, err
	}
	return FeedSummary{ID: id, Feed: feed}, nil
}

// UpdateFeed validates and upserts a feed, then marks onboarding finished.
// A feed without entries is rejected and the stored one is left untouched.
func (b *Backend) UpdateFeed(ctx context.Context, feed model.Feed) error {
	if strings.TrimSpace(feed.URL) == "" {
		return fmt.Errorf("%w: feed %q has no url", ErrInvalidFeed, feed.Name)
	}
	if err := b.validator.Validate(ctx, feed); err != nil {
		b.logger.Info("feed is invalid", zap.String("url", feed.URL), zap.Error(err))
		return fmt.Errorf("%w: feed %s does not have any entries at url %s: %v", ErrInvalidFeed, feed.Name, feed.URL, err)
	}

	if err := b.store.UpsertFeed(ctx, feed); err != nil {
		return err
	}
	return b.finishOnboarding(ctx)
}

// DeleteFeed removes a feed and everything stored for it.
func (b *Backend) DeleteFeed(ctx context.Context, id string) error {
	return b.store.DeleteFeed(ctx, id)
}

// RefreshFeed polls one feed now, ignoring its refresh flag.
func (b *Backend) RefreshFeed(ctx context.Context, id string) (int, error) {
	return b.refresher.CheckFeed(ctx, id)
}

// RefreshAll runs a poll cycle now.
func (b *Backend) RefreshAll(ctx context.Context) (map[string]int, error) {
	return b.refresher.CheckFeeds(ctx)
}

func (b *Backend) finishOnboarding(ctx context.Context) error {
	settings := b.store.Settings(ctx)
	if settings.FinishedOnboarding {
		return nil
	}
	settings.FinishedOnboarding = true
	return b.store.UpsertSettings(ctx, settings)
}

// --- Entries ---

// EntrySummary is an entry in listings.
type EntrySummary struct {
	ID          string   `json:"id"`
	FeedID      string   `json:"feed_id"`
	FeedName    string   `json:"feed_name"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	PublishedAt int64    `json:"published_at"`
	UpdatedAt   int64    `json:"updated_at"`
	Authors     []string `json:"authors"`
	Preview     string   `json:"preview,omitempty"`
}

// ListEntries returns entries, newest first, optionally for one feed and
// optionally limited to the last RecentHours.
func (b *Backend) ListEntries(ctx context.Context, feedID string, recent bool) ([]EntrySummary, error) {
	if feedID != "" {
		if _, err := b.store.Feed(ctx, feedID); err != nil {
			return nil, err
		}
	}

	filter := database.EntryFilter{FeedID: feedID}
	if recent {
		hours := b.store.Settings(ctx).RecentHours
		filter.After = lo.ToPtr(b.now().Add(-time.Duration(hours) * time.Hour).Unix())
	}

	entries, err := b.store.FeedEntries(ctx, filter)
	if err != nil {
		return nil, err
	}

	feeds, err := b.store.Feeds(ctx)
	if err != nil {
		return nil, err
	}
	names := lo.SliceToMap(feeds, func(f model.Feed) (string, string) { return f.ID(), f.Name })

	return lo.Map(entries, func(e model.FeedEntry, _ int) EntrySummary {
		return EntrySummary{
			ID:          e.ID(),
			FeedID:      e.FeedID,
			FeedName:    names[e.FeedID],
			Title:       e.Title,
			URL:         e.URL,
			PublishedAt: e.PublishedAt,
			UpdatedAt:   e.UpdatedAt,
			Authors:     e.Authors,
			Preview:     e.Preview,
		}
	}), nil
}

// EntryView is the read view of one entry.
type EntryView struct {
	EntrySummary
	Byline        string `json:"byline,omitempty"`
	Content       string `json:"content,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Unretrievable bool   `json:"unretrievable"`
	Banned        bool   `json:"banned"`
}

// ReadEntry returns an entry for reading. Preview-only feeds show the feed
// preview; others show retrieved content, fetched first when missing or on redrive.
func (b *Backend) ReadEntry(ctx context.Context, id string, redrive bool) (EntryView, error) {
	entry, err := b.store.FeedEntry(ctx, id)
	if err != nil {
		return EntryView{}, err
	}
	feed, err := b.store.Feed(ctx, entry.FeedID)
	if err != nil {
		return EntryView{}, err
	}

	view := EntryView{
		EntrySummary: EntrySummary{
			ID:          id,
			FeedID:      entry.FeedID,
			FeedName:    feed.Name,
			Title:       entry.Title,
			URL:         entry.URL,
			PublishedAt: entry.PublishedAt,
			UpdatedAt:   entry.UpdatedAt,
			Authors:     entry.Authors,
		},
		Byline: strings.Join(entry.Authors, ", "),
	}

	if feed.PreviewOnly {
		view.Preview = entry.Preview
		return view, nil
	}

	content, err := b.store.GetEntryContent(ctx, entry, redrive)
	if err != nil {
		return EntryView{}, err
	}
	view.Content = content.Content
	view.Summary = content.Summary
	view.Unretrievable = content.Unretrievable
	view.Banned = content.Banned
	return view, nil
}

// --- Settings ---

// Settings returns the stored or default settings.
func (b *Backend) Settings(ctx context.Context) model.GlobalSettings {
	return b.store.Settings(ctx)
}

// UpdateSettings validates and stores settings, persisting the handler
// selected for each role, then runs the settings hooks.
func (b *Backend) UpdateSettings(ctx context.Context, settings model.GlobalSettings) error {
	if err := b.validateSettings(settings); err != nil {
		return err
	}
	if err := b.store.UpsertSettings(ctx, settings); err != nil {
		return err
	}
	for _, fn := range b.settingsHooks {
		fn(settings)
	}
	return nil
}

func (b *Backend) validateSettings(settings model.GlobalSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	registry := b.store.Registry()
	for key, want := range map[string]handler.Role{
		settings.NotificationHandlerKey:     handler.RoleNotification,
		settings.LLMHandlerKey:              handler.RoleLLM,
		settings.ContentRetrievalHandlerKey: handler.RoleContent,
	} {
		if role, ok := registry.Role(key); !ok || role != want {
			return fmt.Errorf("%w: %q is not a %s handler", ErrInvalidSettings, key, want)
		}
	}
	return nil
}

// --- Handlers ---

// HandlerInfo is a registered handler with its stored configuration, null when
// never stored.
type HandlerInfo struct {
	Key    string          `json:"type"`
	Role   handler.Role    `json:"handler_type"`
	Config json.RawMessage `json:"config"`
}

// Handlers lists every registered handler, sorted by key.
func (b *Backend) Handlers(ctx context.Context) ([]HandlerInfo, error) {
	configs, err := b.store.HandlerConfigs(ctx)
	if err != nil {
		return nil, err
	}
	roles := b.store.Registry().Roles()

	return lo.Map(b.store.Registry().Keys(), func(key string, _ int) HandlerInfo {
		return HandlerInfo{Key: key, Role: roles[key], Config: nullable(configs[key])}
	}), nil
}

// HandlerConfig returns one handler's stored configuration.
func (b *Backend) HandlerConfig(ctx context.Context, key string) (HandlerInfo, error) {
	role, ok := b.store.Registry().Role(key)
	if !ok {
		return HandlerInfo{}, &handler.ConfigError{Key: key, Err: handler.ErrUnknownHandler}
	}
	configs, err := b.store.HandlerConfigs(ctx)
	if err != nil {
		return HandlerInfo{}, err
	}
	return HandlerInfo{Key: key, Role: role, Config: nullable(configs[key])}, nil
}

func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// UpdateHandler replaces the configuration of a handler. An invalid
// configuration is rejected with a *handler.ConfigError and the previous one stays.
func (b *Backend) UpdateHandler(ctx context.Context, key string, config []byte) error {
	h, err := b.store.Registry().New(key, config)
	if err != nil {
		return err
	}
	return b.store.UpsertHandler(ctx, h)
}

// HandlerChoices lists the handler keys available for role.
func (b *Backend) HandlerChoices(role handler.Role) ([]string, error) {
	if !slices.Contains([]handler.Role{handler.RoleNotification, handler.RoleLLM, handler.RoleContent}, role) {
		return nil, fmt.Errorf("unknown handler role %q: %w", role, database.ErrNotFound)
	}
	return b.store.Registry().KeysFor(role), nil
}
