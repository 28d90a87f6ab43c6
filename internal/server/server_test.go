package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/rssynthesis/internal/backend"
	"github.com/bryan-buckman/rssynthesis/internal/database"
	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

type stubRetriever struct{}

func (*stubRetriever) ID() string { return "browser" }

func (*stubRetriever) GetContent(_ context.Context, entry model.FeedEntry, _ model.Feed, _ handler.SummarizeFunc) model.EntryContent {
	return model.EntryContent{URL: entry.URL, Content: "<p>body</p>"}
}

type stubSummarizer struct{}

func (*stubSummarizer) ID() string { return "null_llm" }

func (*stubSummarizer) Summarize(context.Context, model.Feed, model.FeedEntry, string) string {
	return ""
}

type stubNotifier struct {
	Channel string `json:"channel,omitempty"`
}

func (*stubNotifier) ID() string { return "null_notification" }

func (*stubNotifier) Login(context.Context) error { return nil }

func (*stubNotifier) Logout(context.Context) error { return nil }

func (*stubNotifier) SendNotification(context.Context, model.Feed, model.FeedEntry) error {
	return nil
}

type stubValidator struct{}

func (stubValidator) Validate(_ context.Context, feed model.Feed) error {
	if strings.Contains(feed.URL, "empty") {
		return errors.New("no entries")
	}
	return nil
}

type stubRefresher struct{}

func (stubRefresher) CheckFeed(_ context.Context, id string) (int, error) {
	if id == "missing" {
		return 0, database.ErrNotFound
	}
	return 2, nil
}

func (stubRefresher) CheckFeeds(context.Context) (map[string]int, error) {
	return map[string]int{"a": 1, "b": 3}, nil
}

func newTestServer(t *testing.T) (*Server, database.Store) {
	t.Helper()
	registry := handler.NewRegistry(handler.Env{Logger: zaptest.NewLogger(t)})
	registry.Register(handler.RoleNotification, "null_notification", func(handler.Env) handler.Handler { return &stubNotifier{} })
	registry.Register(handler.RoleLLM, "null_llm", func(handler.Env) handler.Handler { return &stubSummarizer{} })
	registry.Register(handler.RoleContent, "browser", func(handler.Env) handler.Handler { return &stubRetriever{} })

	store, err := database.Open(database.Options{Kind: "sqlite", DataDir: t.TempDir()}, registry, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := backend.New(store, stubValidator{}, stubRefresher{}, zaptest.NewLogger(t))
	return New(b, zaptest.NewLogger(t)), store
}

func do(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestFeedLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	id := model.ID("https://a.test/rss")

	rec := do(t, s, http.MethodPost, "/api/feeds", `{"name":"A","url":"https://a.test/rss","category":"news"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/feeds/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, got["id"])
	assert.Equal(t, "news", got["category"])
	assert.Equal(t, true, got["notify"])

	rec = do(t, s, http.MethodGet, "/api/feeds?counts=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entry_count":0`)

	rec = do(t, s, http.MethodPost, "/api/feeds/"+id+"/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","new_items":2}`, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/api/feeds/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/feeds/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidFeedIsUnprocessable(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/feeds", `{"name":"E","url":"https://empty.test/rss"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty.test")

	rec = do(t, s, http.MethodPost, "/api/feeds", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntries(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	feed := model.NewFeed("A", "https://a.test/rss")
	require.NoError(t, store.UpsertFeed(ctx, feed))
	entry := model.FeedEntry{FeedID: feed.ID(), Title: "One", URL: "https://a.test/1", PublishedAt: 1, Authors: []string{}}
	require.NoError(t, store.UpsertFeedEntry(ctx, entry))

	rec := do(t, s, http.MethodGet, "/api/entries?feed_id="+feed.ID(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []backend.EntrySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].FeedName)

	rec = do(t, s, http.MethodGet, "/api/entries/"+entry.ID()+"?redrive=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"<p>body</p>"`)

	rec = do(t, s, http.MethodGet, "/api/entries/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettings(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"theme":"forest"`)

	rec = do(t, s, http.MethodPut, "/api/settings", `{"theme":"nord"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"refresh_interval":5`)

	rec = do(t, s, http.MethodPut, "/api/settings", `{"llm_handler_key":"nope"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlers(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/handlers/null_notification", `{"channel":"ops"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"null_notification","handler_type":"notification","config":{"channel":"ops"}}`, rec.Body.String())

	rec = do(t, s, http.MethodPut, "/api/handlers/null_notification", `{"bogus":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/handlers/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/handlers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var handlers []backend.HandlerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handlers))
	assert.Len(t, handlers, 3)

	rec = do(t, s, http.MethodGet, "/api/handlers/choices/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["browser"]`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/handlers/choices/storage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshAll(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","new_items":4,"feeds":2}`, rec.Body.String())
}

func TestBackupAndRestore(t *testing.T) {
	src, store := newTestServer(t)
	require.NoError(t, store.UpsertFeed(context.Background(), model.NewFeed("A", "https://a.test/rss")))

	rec := do(t, src, http.MethodGet, "/api/backup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	backup := rec.Body.String()

	dst, _ := newTestServer(t)
	rec = do(t, dst, http.MethodPost, "/api/restore", backup)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok","feeds":1}`, rec.Body.String())

	rec = do(t, dst, http.MethodGet, "/api/settings", "")
	assert.Contains(t, rec.Body.String(), `"finished_onboarding":true`)

	rec = do(t, dst, http.MethodPost, "/api/restore", "garbage")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOPMLUpload(t *testing.T) {
	s, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("opml", "feeds.opml")
	require.NoError(t, err)
	_, err = part.Write([]byte(`<opml version="2.0"><body><outline text="A" type="rss" xmlUrl="https://a.test/rss"/></body></opml>`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/opml", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok","imported":1}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/opml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `xmlUrl="https://a.test/rss"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(database.ErrNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&handler.ConfigError{Key: "x", Err: errors.New("bad")}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
