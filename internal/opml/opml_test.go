package opml

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

const doc = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go">
        <outline text="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
      </outline>
      <outline title="Titled" type="rss" xmlUrl="https://titled.test/rss"/>
    </outline>
    <outline text="Tagged" type="rss" xmlUrl="https://tagged.test/rss" category="/News/World,/Other"/>
    <outline text="Loose" type="rss" xmlUrl="https://loose.test/rss"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	feeds, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, feeds, 4)

	assert.Equal(t, "Go Blog", feeds[0].Name)
	assert.Equal(t, "Tech/Go", feeds[0].Category)
	assert.True(t, feeds[0].Notify)

	assert.Equal(t, "Titled", feeds[1].Name)
	assert.Equal(t, "Tech", feeds[1].Category)

	assert.Equal(t, "News/World", feeds[2].Category)
	assert.Equal(t, "uncategorized", feeds[3].Category)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(strings.NewReader("<opml><body>"))
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	a := model.NewFeed("B feed", "https://b.test/rss")
	a.Category = "news"
	b := model.NewFeed("A feed", "https://a.test/rss")
	b.Category = "news"
	c := model.NewFeed("C feed", "https://c.test/rss")

	out, err := Export("rssynthesis", []model.Feed{a, b, c}, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("<?xml")))

	feeds, err := Parse(bytes.NewReader(out))
	require.NoError(t, err)
	require.Len(t, feeds, 3)
	assert.Equal(t, []string{"A feed", "B feed", "C feed"}, []string{feeds[0].Name, feeds[1].Name, feeds[2].Name})
	assert.Equal(t, "news", feeds[0].Category)
	assert.Equal(t, "uncategorized", feeds[2].Category)
	assert.Equal(t, a.ID(), feeds[1].ID())
}
