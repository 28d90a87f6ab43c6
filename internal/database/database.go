package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB is the SQL backend shared by SQLite and PostgreSQL.
type DB struct {
	conn     *sqlx.DB
	kind     string
	registry *handler.Registry
	handlers *handlerCache
	logger   *zap.Logger
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string, registry *handler.Registry, logger *zap.Logger) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return open(conn, "sqlite", registry, logger)
}

func open(conn *sqlx.DB, kind string, registry *handler.Registry, logger *zap.Logger) (*DB, error) {
	db := &DB{
		conn:     conn,
		kind:     kind,
		registry: registry,
		handlers: newHandlerCache(registry),
		logger:   logger.Named("database").With(zap.String("backend", kind)),
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Kind returns the backend name.
func (db *DB) Kind() string {
	return db.kind
}

// SupportsHighConcurrency returns true for PostgreSQL only.
func (db *DB) SupportsHighConcurrency() bool {
	return db.kind == "postgres"
}

// Registry returns the handler registry.
func (db *DB) Registry() *handler.Registry {
	return db.registry
}

// The schema is portable between SQLite and PostgreSQL.
const schema = `
CREATE TABLE IF NOT EXISTS feeds (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL,
	notify_destination TEXT NOT NULL DEFAULT '',
	notify BOOLEAN NOT NULL,
	preview_only BOOLEAN NOT NULL,
	refresh_enabled BOOLEAN NOT NULL,
	use_script BOOLEAN NOT NULL,
	retrieve_content BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS poll_state (
	feed_id TEXT PRIMARY KEY,
	last_polled BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS feed_start (
	feed_id TEXT PRIMARY KEY,
	start_ts BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	feed_id TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	published_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	authors TEXT NOT NULL,
	preview TEXT NOT NULL,
	content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_feed_id ON entries(feed_id);
CREATE INDEX IF NOT EXISTS idx_entries_published_at ON entries(published_at);
CREATE TABLE IF NOT EXISTS entry_contents (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	content TEXT,
	summary TEXT,
	unretrievable BOOLEAN NOT NULL,
	banned BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS handlers (
	id TEXT PRIMARY KEY,
	config TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY,
	data TEXT NOT NULL
);
`

func (db *DB) migrate() error {
	_, err := db.conn.Exec(schema)
	return err
}

// --- Row types ---

type dbFeed struct {
	ID                string `db:"id"`
	Name              string `db:"name"`
	Category          string `db:"category"`
	Type              string `db:"type"`
	URL               string `db:"url"`
	NotifyDestination string `db:"notify_destination"`
	Notify            bool   `db:"notify"`
	PreviewOnly       bool   `db:"preview_only"`
	RefreshEnabled    bool   `db:"refresh_enabled"`
	UseScript         bool   `db:"use_script"`
	RetrieveContent   bool   `db:"retrieve_content"`
}

func toDBFeed(f model.Feed) dbFeed {
	return dbFeed{
		ID:                f.ID(),
		Name:              f.Name,
		Category:          f.Category,
		Type:              f.Type,
		URL:               f.URL,
		NotifyDestination: f.NotifyDestination,
		Notify:            f.Notify,
		PreviewOnly:       f.PreviewOnly,
		RefreshEnabled:    f.RefreshEnabled,
		UseScript:         f.UseScript,
		RetrieveContent:   f.RetrieveContent,
	}
}

func (r dbFeed) model() model.Feed {
	return model.Feed{
		Name:              r.Name,
		Category:          r.Category,
		Type:              r.Type,
		URL:               r.URL,
		NotifyDestination: r.NotifyDestination,
		Notify:            r.Notify,
		PreviewOnly:       r.PreviewOnly,
		RefreshEnabled:    r.RefreshEnabled,
		UseScript:         r.UseScript,
		RetrieveContent:   r.RetrieveContent,
	}
}

type dbEntry struct {
	ID          string `db:"id"`
	FeedID      string `db:"feed_id"`
	Title       string `db:"title"`
	URL         string `db:"url"`
	PublishedAt int64  `db:"published_at"`
	UpdatedAt   int64  `db:"updated_at"`
	Authors     string `db:"authors"`
	Preview     string `db:"preview"`
	Content     string `db:"content"`
}

func toDBEntry(e model.FeedEntry) (dbEntry, error) {
	authors, err := json.Marshal(lo.Ternary(e.Authors == nil, []string{}, e.Authors))
	if err != nil {
		return dbEntry{}, err
	}
	return dbEntry{
		ID:          e.ID(),
		FeedID:      e.FeedID,
		Title:       e.Title,
		URL:         e.URL,
		PublishedAt: e.PublishedAt,
		UpdatedAt:   e.UpdatedAt,
		Authors:     string(authors),
		Preview:     e.Preview,
		Content:     e.Content,
	}, nil
}

func (r dbEntry) model() model.FeedEntry {
	var authors []string
	_ = json.Unmarshal([]byte(r.Authors), &authors)
	return model.FeedEntry{
		FeedID:      r.FeedID,
		Title:       r.Title,
		URL:         r.URL,
		PublishedAt: r.PublishedAt,
		UpdatedAt:   r.UpdatedAt,
		Authors:     lo.Ternary(authors == nil, []string{}, authors),
		Preview:     r.Preview,
		Content:     r.Content,
	}
}

type dbContent struct {
	ID            string         `db:"id"`
	URL           string         `db:"url"`
	Content       sql.NullString `db:"content"`
	Summary       sql.NullString `db:"summary"`
	Unretrievable bool           `db:"unretrievable"`
	Banned        bool           `db:"banned"`
}

func toDBContent(c model.EntryContent) dbContent {
	return dbContent{
		ID:            c.ID(),
		URL:           c.URL,
		Content:       sql.NullString{String: c.Content, Valid: c.Content != ""},
		Summary:       sql.NullString{String: c.Summary, Valid: c.Summary != ""},
		Unretrievable: c.Unretrievable,
		Banned:        c.Banned,
	}
}

func (r dbContent) model() model.EntryContent {
	return model.EntryContent{
		URL:           r.URL,
		Content:       r.Content.String,
		Summary:       r.Summary.String,
		Unretrievable: r.Unretrievable,
		Banned:        r.Banned,
	}
}

// --- Feed Methods ---

const upsertFeedQuery = `
	INSERT INTO feeds (id, name, category, type, url, notify_destination, notify, preview_only, refresh_enabled, use_script, retrieve_content)
	VALUES (:id, :name, :category, :type, :url, :notify_destination, :notify, :preview_only, :refresh_enabled, :use_script, :retrieve_content)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		category = excluded.category,
		type = excluded.type,
		url = excluded.url,
		notify_destination = excluded.notify_destination,
		notify = excluded.notify,
		preview_only = excluded.preview_only,
		refresh_enabled = excluded.refresh_enabled,
		use_script = excluded.use_script,
		retrieve_content = excluded.retrieve_content`

// ClearFeeds removes every feed record.
func (db *DB) ClearFeeds(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM feeds")
	return err
}

// UpsertFeed replaces or inserts a feed by ID.
func (db *DB) UpsertFeed(ctx context.Context, feed model.Feed) error {
	_, err := db.conn.NamedExecContext(ctx, upsertFeedQuery, toDBFeed(feed))
	return err
}

// InsertFeed inserts a feed, failing with ErrDuplicateKey if its ID exists.
func (db *DB) InsertFeed(ctx context.Context, feed model.Feed) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind("SELECT COUNT(*) FROM feeds WHERE id = ?"), feed.ID()); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("feed %s: %w", feed.ID(), ErrDuplicateKey)
	}
	if _, err := tx.NamedExecContext(ctx, upsertFeedQuery, toDBFeed(feed)); err != nil {
		return err
	}
	return tx.Commit()
}

// Feed returns a single feed by ID.
func (db *DB) Feed(ctx context.Context, id string) (model.Feed, error) {
	var row dbFeed
	err := db.conn.GetContext(ctx, &row, db.conn.Rebind("SELECT * FROM feeds WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Feed{}, fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Feed{}, err
	}
	return row.model(), nil
}

// Feeds returns all feeds ordered by name.
func (db *DB) Feeds(ctx context.Context) ([]model.Feed, error) {
	var rows []dbFeed
	if err := db.conn.SelectContext(ctx, &rows, "SELECT * FROM feeds ORDER BY name"); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r dbFeed, _ int) model.Feed { return r.model() }), nil
}

// DeleteFeed removes a feed with its entries, content, poll state and start timestamp.
func (db *DB) DeleteFeed(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM feeds WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}

	for _, q := range []string{
		"DELETE FROM entry_contents WHERE id IN (SELECT id FROM entries WHERE feed_id = ?)",
		"DELETE FROM entries WHERE feed_id = ?",
		"DELETE FROM poll_state WHERE feed_id = ?",
		"DELETE FROM feed_start WHERE feed_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Poll State Methods ---

func (db *DB) timestamp(ctx context.Context, query, feedID string) (int64, bool, error) {
	var ts int64
	err := db.conn.GetContext(ctx, &ts, db.conn.Rebind(query), feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// PollState returns when a feed was last polled, if ever.
func (db *DB) PollState(ctx context.Context, feedID string) (int64, bool, error) {
	return db.timestamp(ctx, "SELECT last_polled FROM poll_state WHERE feed_id = ?", feedID)
}

// UpdatePollState records the last poll time for a feed.
func (db *DB) UpdatePollState(ctx context.Context, feedID string, ts int64) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO poll_state (feed_id, last_polled) VALUES (?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET last_polled = excluded.last_polled`), feedID, ts)
	return err
}

// StartTimestamp returns the lower bound for new entries of a feed, if set.
func (db *DB) StartTimestamp(ctx context.Context, feedID string) (int64, bool, error) {
	return db.timestamp(ctx, "SELECT start_ts FROM feed_start WHERE feed_id = ?", feedID)
}

// SetStartTimestamp stores the lower bound for new entries of a feed.
func (db *DB) SetStartTimestamp(ctx context.Context, feedID string, ts int64) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO feed_start (feed_id, start_ts) VALUES (?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET start_ts = excluded.start_ts`), feedID, ts)
	return err
}

// --- Entry Methods ---

// UpsertFeedEntry replaces or inserts an entry by ID.
func (db *DB) UpsertFeedEntry(ctx context.Context, entry model.FeedEntry) error {
	row, err := toDBEntry(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	_, err = db.conn.NamedExecContext(ctx, `
		INSERT INTO entries (id, feed_id, title, url, published_at, updated_at, authors, preview, content)
		VALUES (:id, :feed_id, :title, :url, :published_at, :updated_at, :authors, :preview, :content)
		ON CONFLICT (id) DO UPDATE SET
			feed_id = excluded.feed_id,
			title = excluded.title,
			url = excluded.url,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at,
			authors = excluded.authors,
			preview = excluded.preview,
			content = excluded.content`, row)
	return err
}

// FeedEntries returns entries matching filter, newest first.
func (db *DB) FeedEntries(ctx context.Context, filter EntryFilter) ([]model.FeedEntry, error) {
	query := "SELECT * FROM entries WHERE 1 = 1"
	var args []any
	if filter.FeedID != "" {
		query += " AND feed_id = ?"
		args = append(args, filter.FeedID)
	}
	if filter.After != nil {
		query += " AND published_at > ?"
		args = append(args, *filter.After)
	}
	query += " ORDER BY published_at DESC"

	var rows []dbEntry
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r dbEntry, _ int) model.FeedEntry { return r.model() }), nil
}

type entryCount struct {
	FeedID string `db:"feed_id"`
	N      int    `db:"n"`
}

// EntryCounts returns the number of stored entries per feed ID. Feeds without
// entries are absent.
func (db *DB) EntryCounts(ctx context.Context) (map[string]int, error) {
	var rows []entryCount
	if err := db.conn.SelectContext(ctx, &rows, "SELECT feed_id, COUNT(*) AS n FROM entries GROUP BY feed_id"); err != nil {
		return nil, err
	}
	return lo.SliceToMap(rows, func(r entryCount) (string, int) { return r.FeedID, r.N }), nil
}

// FeedEntry returns a single entry by ID.
func (db *DB) FeedEntry(ctx context.Context, id string) (model.FeedEntry, error) {
	var row dbEntry
	err := db.conn.GetContext(ctx, &row, db.conn.Rebind("SELECT * FROM entries WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FeedEntry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.FeedEntry{}, err
	}
	return row.model(), nil
}

func (db *DB) exists(ctx context.Context, table, id string) (bool, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, db.conn.Rebind("SELECT COUNT(*) FROM "+table+" WHERE id = ?"), id)
	return n > 0, err
}

// FeedEntryExists reports whether an entry with the ID is stored.
func (db *DB) FeedEntryExists(ctx context.Context, id string) (bool, error) {
	return db.exists(ctx, "entries", id)
}

// DeleteFeedEntry removes an entry and its content.
func (db *DB) DeleteFeedEntry(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, db.conn.Rebind("DELETE FROM entries WHERE id = ?"), id); err != nil {
		return err
	}
	return db.DeleteEntryContent(ctx, id)
}

// --- Content Methods ---

// UpsertEntryContent replaces or inserts entry content by ID.
func (db *DB) UpsertEntryContent(ctx context.Context, content model.EntryContent) error {
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO entry_contents (id, url, content, summary, unretrievable, banned)
		VALUES (:id, :url, :content, :summary, :unretrievable, :banned)
		ON CONFLICT (id) DO UPDATE SET
			url = excluded.url,
			content = excluded.content,
			summary = excluded.summary,
			unretrievable = excluded.unretrievable,
			banned = excluded.banned`, toDBContent(content))
	return err
}

// EntryContent returns stored content by ID without triggering retrieval.
func (db *DB) EntryContent(ctx context.Context, id string) (model.EntryContent, error) {
	var row dbContent
	err := db.conn.GetContext(ctx, &row, db.conn.Rebind("SELECT * FROM entry_contents WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EntryContent{}, fmt.Errorf("entry content %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.EntryContent{}, err
	}
	return row.model(), nil
}

// EntryContentExists reports whether content with the ID is stored.
func (db *DB) EntryContentExists(ctx context.Context, id string) (bool, error) {
	return db.exists(ctx, "entry_contents", id)
}

// DeleteEntryContent removes stored content by ID.
func (db *DB) DeleteEntryContent(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind("DELETE FROM entry_contents WHERE id = ?"), id)
	return err
}

// GetEntryContent returns stored content, retrieving it first when missing or on redrive.
func (db *DB) GetEntryContent(ctx context.Context, entry model.FeedEntry, redrive bool) (model.EntryContent, error) {
	return GetEntryContent(ctx, db, entry, redrive, db.logger)
}

// --- Handler Methods ---

// UpsertHandler persists the configuration of h under its ID.
func (db *DB) UpsertHandler(ctx context.Context, h handler.Handler) error {
	config, err := handler.Config(h)
	if err != nil {
		return fmt.Errorf("encode handler %s: %w", h.ID(), err)
	}
	_, err = db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO handlers (id, config) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET config = excluded.config`), h.ID(), string(config))
	if err != nil {
		return err
	}
	db.handlers.put(h.ID(), string(config), h)
	return nil
}

// Handler rebuilds a stored handler. Instances are reused while their stored
// configuration is unchanged so notifier sessions survive between calls.
func (db *DB) Handler(ctx context.Context, id string) (handler.Handler, error) {
	var config string
	err := db.conn.GetContext(ctx, &config, db.conn.Rebind("SELECT config FROM handlers WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("handler %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return db.handlers.get(id, config)
}

// HandlerConfigs returns every stored handler configuration keyed by ID.
func (db *DB) HandlerConfigs(ctx context.Context) (map[string]json.RawMessage, error) {
	var rows []struct {
		ID     string `db:"id"`
		Config string `db:"config"`
	}
	if err := db.conn.SelectContext(ctx, &rows, "SELECT id, config FROM handlers"); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.ID] = json.RawMessage(r.Config)
	}
	return out, nil
}

// --- Settings Methods ---

// Settings returns the stored settings, or defaults when none are stored or
// the stored record cannot be read.
func (db *DB) Settings(ctx context.Context) model.GlobalSettings {
	var data string
	err := db.conn.GetContext(ctx, &data, "SELECT data FROM settings WHERE id = 1")
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			db.logger.Warn("reading settings failed, using defaults", zap.Error(err))
		}
		return model.DefaultSettings()
	}

	var s model.GlobalSettings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		db.logger.Warn("decoding settings failed, using defaults", zap.Error(err))
		return model.DefaultSettings()
	}
	return s
}

// UpsertSettings replaces the settings and persists the handler selected for
// each role, default-constructed when never configured.
func (db *DB) UpsertSettings(ctx context.Context, settings model.GlobalSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO settings (id, data) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data`), string(data))
	if err != nil {
		return err
	}
	return CascadeHandlers(ctx, db, settings)
}
