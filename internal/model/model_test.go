package model

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestIdentityIsHashOfURL(t *testing.T) {
	url := "https://example.com/posts/1"

	feed := NewFeed("Example", "https://example.com/feed.xml")
	entry := FeedEntry{URL: url, Title: "one"}
	content := EntryContent{URL: url}

	assert.Equal(t, md5Hex("https://example.com/feed.xml"), feed.ID())
	assert.Equal(t, md5Hex(url), entry.ID())
	assert.Equal(t, entry.ID(), content.ID())
}

func TestFeedIDSurvivesRename(t *testing.T) {
	a := NewFeed("First", "https://example.com/rss")
	b := a
	b.Name = "Renamed"
	b.Category = "news"

	assert.Equal(t, a.ID(), b.ID())
}

func TestFeedDefaultsOnUnmarshal(t *testing.T) {
	var fromJSON Feed
	require.NoError(t, json.Unmarshal([]byte(`{"name":"a","url":"https://a.test/rss","notify":false}`), &fromJSON))
	assert.Equal(t, "uncategorized", fromJSON.Category)
	assert.Equal(t, "rss", fromJSON.Type)
	assert.False(t, fromJSON.Notify)
	assert.True(t, fromJSON.RefreshEnabled)
	assert.True(t, fromJSON.RetrieveContent)

	var fromYAML []Feed
	require.NoError(t, yaml.Unmarshal([]byte("- name: b\n  url: https://b.test/rss\n  preview_only: true\n"), &fromYAML))
	require.Len(t, fromYAML, 1)
	assert.True(t, fromYAML[0].PreviewOnly)
	assert.True(t, fromYAML[0].Notify)
	assert.Equal(t, "uncategorized", fromYAML[0].Category)
}

func TestSettingsDefaultsAndValidate(t *testing.T) {
	var s GlobalSettings
	require.NoError(t, json.Unmarshal([]byte(`{"theme":"nord"}`), &s))
	assert.Equal(t, "nord", s.Theme)
	assert.True(t, s.SendNotification)
	assert.Equal(t, 36, s.RecentHours)
	assert.NoError(t, s.Validate())

	s.Theme = "neon"
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.RefreshInterval = 0
	assert.Error(t, s.Validate())
}
