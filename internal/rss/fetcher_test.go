package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Blog</title><link>https://blog.test</link>
<item><title>Second</title><link>https://blog.test/2</link>
<pubDate>Tue, 14 Nov 2023 22:13:20 GMT</pubDate><author>ann@blog.test (Ann)</author>
<description>second preview</description></item>
<item><title>No link</title><description>dropped</description></item>
<item><title>First</title><link>https://blog.test/1</link><description>first preview</description></item>
</channel></rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Atom</title>
<entry><title>Only updated</title><link href="https://atom.test/1"/>
<updated>2023-11-14T22:13:20Z</updated><author><name>Bo</name></author>
<content type="html">&lt;p&gt;inline&lt;/p&gt;</content></entry>
</feed>`

func serve(t *testing.T, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rssynthesis-test", r.UserAgent())
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T) *Fetcher {
	return NewFetcher(nil, "rssynthesis-test", 5*time.Second, zaptest.NewLogger(t))
}

func TestParseRSS(t *testing.T) {
	srv := serve(t, rssDoc)
	feed := model.NewFeed("Blog", srv.URL)

	entries, err := newTestFetcher(t).Parse(context.Background(), feed)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "https://blog.test/2", entries[0].URL)
	assert.Equal(t, feed.ID(), entries[0].FeedID)
	assert.Equal(t, int64(1_700_000_000), entries[0].PublishedAt)
	assert.Equal(t, entries[0].PublishedAt, entries[0].UpdatedAt)
	assert.Equal(t, "second preview", entries[0].Preview)
	assert.Equal(t, []string{"Ann"}, entries[0].Authors)

	assert.Zero(t, entries[1].PublishedAt)
	assert.Equal(t, []string{}, entries[1].Authors)
}

func TestParseAtomFallsBackToUpdated(t *testing.T) {
	srv := serve(t, atomDoc)

	entries, err := newTestFetcher(t).Parse(context.Background(), model.NewFeed("Atom", srv.URL))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, int64(1_700_000_000), entries[0].PublishedAt)
	assert.Equal(t, "<p>inline</p>", entries[0].Content)
	assert.Equal(t, []string{"Bo"}, entries[0].Authors)
}

func TestParseMalformed(t *testing.T) {
	srv := serve(t, "this is not a feed")

	_, err := newTestFetcher(t).Parse(context.Background(), model.NewFeed("Bad", srv.URL))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	f := newTestFetcher(t)

	assert.NoError(t, f.Validate(context.Background(), model.NewFeed("Blog", serve(t, rssDoc).URL)))

	empty := serve(t, `<?xml version="1.0"?><rss version="2.0"><channel><title>Empty</title></channel></rss>`)
	assert.ErrorIs(t, f.Validate(context.Background(), model.NewFeed("Empty", empty.URL)), ErrNoEntries)
}

func TestDomainLimiterCancel(t *testing.T) {
	dl := newDomainLimiter(time.Hour)
	ctx := context.Background()

	require.NoError(t, dl.acquire(ctx, "a.test"))
	dl.release("a.test")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, dl.acquire(cancelled, "a.test"), context.Canceled)
	assert.Equal(t, "blog.test", extractDomain("https://blog.test/rss"))
}
