package handler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

type fakeFetcher struct {
	html  string
	err   error
	calls int
	panic bool
}

func (f *fakeFetcher) FetchHTML(_ context.Context, _ string, _ bool) (string, error) {
	f.calls++
	if f.panic {
		panic("boom")
	}
	return f.html, f.err
}

func articleHTML() string {
	para := strings.Repeat("The quick brown fox jumps over the lazy dog while the reporter takes notes. ", 12)
	return `<html><head><title>Story</title></head><body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<article><h1>Story</h1><p>` + para + `</p><p>` + para + `</p><p>` + para + `</p></article>
<footer>Copyright</footer></body></html>`
}

func TestIsBanned(t *testing.T) {
	assert.True(t, IsBanned("reddit.com/abc123"))
	assert.True(t, IsBanned("http://www.reddit.com/abc123"))
	assert.True(t, IsBanned("https://x.com/someone/status/1"))
	assert.False(t, IsBanned("cnn.com/abc123"))
	assert.False(t, IsBanned("https://www.cnn.com/abc123"))
	assert.False(t, IsBanned("https://REDDIT.COM/abc"))
}

func TestRetrieveContentBannedSkipsFetch(t *testing.T) {
	fetcher := &fakeFetcher{html: articleHTML()}
	summaries := 0
	summarize := func(context.Context, model.Feed, model.FeedEntry, string) string {
		summaries++
		return "summary"
	}

	entry := model.FeedEntry{URL: "https://www.youtube.com/watch?v=1"}
	got := RetrieveContent(context.Background(), fetcher, entry, model.NewFeed("f", "https://f.test"), summarize, zaptest.NewLogger(t))

	assert.True(t, got.Banned)
	assert.False(t, got.Unretrievable)
	assert.Empty(t, got.Content)
	assert.Empty(t, got.Summary)
	assert.Zero(t, fetcher.calls)
	assert.Zero(t, summaries)
}

func TestRetrieveContentFetchErrorIsUnretrievable(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	entry := model.FeedEntry{URL: "https://blog.test/post"}

	got := RetrieveContent(context.Background(), fetcher, entry, model.NewFeed("f", "https://f.test"), nil, zaptest.NewLogger(t))

	assert.True(t, got.Unretrievable)
	assert.Equal(t, entry.URL, got.URL)
	assert.Equal(t, 1, fetcher.calls)
}

func TestRetrieveContentPanicIsUnretrievable(t *testing.T) {
	fetcher := &fakeFetcher{panic: true}
	entry := model.FeedEntry{URL: "https://blog.test/post"}

	got := RetrieveContent(context.Background(), fetcher, entry, model.NewFeed("f", "https://f.test"), nil, zaptest.NewLogger(t))

	assert.True(t, got.Unretrievable)
}

func TestRetrieveContentEmptyHTML(t *testing.T) {
	fetcher := &fakeFetcher{}
	entry := model.FeedEntry{URL: "https://blog.test/post"}

	got := RetrieveContent(context.Background(), fetcher, entry, model.NewFeed("f", "https://f.test"), nil, zaptest.NewLogger(t))

	assert.True(t, got.Unretrievable)
}

func TestRetrieveContentSummarizes(t *testing.T) {
	fetcher := &fakeFetcher{html: articleHTML()}
	var gotText string
	summarize := func(_ context.Context, _ model.Feed, _ model.FeedEntry, text string) string {
		gotText = text
		return "**short** version"
	}
	entry := model.FeedEntry{URL: "https://blog.test/post"}

	got := RetrieveContent(context.Background(), fetcher, entry, model.NewFeed("f", "https://f.test"), summarize, zaptest.NewLogger(t))

	require.False(t, got.Unretrievable)
	assert.Contains(t, got.Content, "quick brown fox")
	assert.Contains(t, gotText, "quick brown fox")
	assert.Contains(t, got.Summary, "<strong>short</strong>")
	assert.Equal(t, 1, fetcher.calls)
}

func TestRetrieveContentUsesInlineContent(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("must not be called")}
	feed := model.NewFeed("f", "https://f.test")
	feed.RetrieveContent = false
	entry := model.FeedEntry{URL: "https://blog.test/post", Content: articleHTML()}

	got := RetrieveContent(context.Background(), fetcher, entry, feed, nil, zaptest.NewLogger(t))

	assert.False(t, got.Unretrievable)
	assert.Contains(t, got.Content, "quick brown fox")
	assert.Empty(t, got.Summary)
	assert.Zero(t, fetcher.calls)
}

func TestReadLinkAndRouting(t *testing.T) {
	entry := model.FeedEntry{URL: "https://blog.test/post"}
	assert.Equal(t, "https://rss.local/read/"+entry.ID(), ReadLink("https://rss.local/", entry))

	feed := model.NewFeed("f", "https://f.test")
	routing := map[string]string{"security": "#sec"}
	assert.Equal(t, "#general", RouteDestination(routing, "#general", feed))

	feed.NotifyDestination = "security"
	assert.Equal(t, "#sec", RouteDestination(routing, "#general", feed))

	feed.NotifyDestination = "unknown"
	assert.Equal(t, "#general", RouteDestination(routing, "#general", feed))
}

func TestSummarizationPrompt(t *testing.T) {
	p := SummarizationPrompt("body text")
	assert.True(t, strings.HasPrefix(p, "Summarize this article:"))
	assert.Contains(t, p, "body text")
}
