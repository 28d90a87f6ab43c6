// Package model defines shared data structures.
package model

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
)

// ID derives the content-hash identity used by feeds, entries and entry content.
func ID(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Feed represents an RSS/Atom feed subscription.
type Feed struct {
	Name              string `json:"name" yaml:"name"`
	Category          string `json:"category" yaml:"category"`
	Type              string `json:"type" yaml:"type"`
	URL               string `json:"url" yaml:"url"`
	NotifyDestination string `json:"notify_destination,omitempty" yaml:"notify_destination"`
	Notify            bool   `json:"notify" yaml:"notify"`
	PreviewOnly       bool   `json:"preview_only" yaml:"preview_only"`
	RefreshEnabled    bool   `json:"refresh_enabled" yaml:"refresh_enabled"`
	UseScript         bool   `json:"use_script" yaml:"use_script"`
	RetrieveContent   bool   `json:"retrieve_content" yaml:"retrieve_content"`
}

// NewFeed returns a feed with default flags for the given name and url.
func NewFeed(name, url string) Feed {
	return Feed{
		Name:            name,
		Category:        "uncategorized",
		Type:            "rss",
		URL:             url,
		Notify:          true,
		RefreshEnabled:  true,
		RetrieveContent: true,
	}
}

// ID is the md5 of the feed url. Renaming a feed keeps its ID.
func (f Feed) ID() string {
	return ID(f.URL)
}

type feedAlias Feed

// UnmarshalJSON applies defaults for fields missing from the document.
func (f *Feed) UnmarshalJSON(data []byte) error {
	v := feedAlias(NewFeed("", ""))
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Feed(v)
	return nil
}

// UnmarshalYAML applies defaults for fields missing from the document.
func (f *Feed) UnmarshalYAML(unmarshal func(any) error) error {
	v := feedAlias(NewFeed("", ""))
	if err := unmarshal(&v); err != nil {
		return err
	}
	*f = Feed(v)
	return nil
}

// FeedEntry represents a single article/entry from a feed.
type FeedEntry struct {
	FeedID      string   `json:"feed_id"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	PublishedAt int64    `json:"published_at"`
	UpdatedAt   int64    `json:"updated_at"`
	Authors     []string `json:"authors"`
	Preview     string   `json:"preview,omitempty"`
	Content     string   `json:"content,omitempty"` // inline content supplied by the feed
}

// ID is the md5 of the entry url, shared with EntryContent.
func (e FeedEntry) ID() string {
	return ID(e.URL)
}

// EntryContent holds the retrieved body and summary for an entry.
// Empty Content or Summary means none was produced.
type EntryContent struct {
	URL           string `json:"url"`
	Content       string `json:"content,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Unretrievable bool   `json:"unretrievable"`
	Banned        bool   `json:"banned"`
}

// ID is the md5 of the content url.
func (c EntryContent) ID() string {
	return ID(c.URL)
}

// Themes accepted by GlobalSettings.
var Themes = []string{
	"black", "coffee", "dark", "fantasy", "forest", "lemonade", "lofi",
	"luxury", "night", "nord", "pastel", "synthwave", "winter",
}

// GlobalSettings is the singleton process configuration stored alongside feeds.
type GlobalSettings struct {
	SendNotification           bool   `json:"send_notification" yaml:"send_notification"`
	Theme                      string `json:"theme" yaml:"theme"`
	RefreshInterval            int    `json:"refresh_interval" yaml:"refresh_interval"` // minutes
	ReadingSpeed               int    `json:"reading_speed" yaml:"reading_speed"`       // words per minute
	NotificationHandlerKey     string `json:"notification_handler_key" yaml:"notification_handler_key"`
	LLMHandlerKey              string `json:"llm_handler_key" yaml:"llm_handler_key"`
	ContentRetrievalHandlerKey string `json:"content_retrieval_handler_key" yaml:"content_retrieval_handler_key"`
	RecentHours                int    `json:"recent_hours" yaml:"recent_hours"`
	FinishedOnboarding         bool   `json:"finished_onboarding" yaml:"finished_onboarding"`
}

// DefaultSettings returns the settings used when none are persisted.
func DefaultSettings() GlobalSettings {
	return GlobalSettings{
		SendNotification:           true,
		Theme:                      "forest",
		RefreshInterval:            5,
		ReadingSpeed:               238,
		NotificationHandlerKey:     "null_notification",
		LLMHandlerKey:              "null_llm",
		ContentRetrievalHandlerKey: "browser",
		RecentHours:                36,
	}
}

type settingsAlias GlobalSettings

// UnmarshalJSON applies defaults for fields missing from the document.
func (s *GlobalSettings) UnmarshalJSON(data []byte) error {
	v := settingsAlias(DefaultSettings())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = GlobalSettings(v)
	return nil
}

// UnmarshalYAML applies defaults for fields missing from the document.
func (s *GlobalSettings) UnmarshalYAML(unmarshal func(any) error) error {
	v := settingsAlias(DefaultSettings())
	if err := unmarshal(&v); err != nil {
		return err
	}
	*s = GlobalSettings(v)
	return nil
}

// Validate checks value ranges. Handler keys are checked against the registry by callers.
func (s GlobalSettings) Validate() error {
	if !slices.Contains(Themes, s.Theme) {
		return fmt.Errorf("unknown theme %q", s.Theme)
	}
	if s.RefreshInterval < 1 {
		return fmt.Errorf("refresh interval must be at least 1 minute, got %d", s.RefreshInterval)
	}
	if s.ReadingSpeed < 1 {
		return fmt.Errorf("reading speed must be positive, got %d", s.ReadingSpeed)
	}
	if s.RecentHours < 1 {
		return fmt.Errorf("recent hours must be positive, got %d", s.RecentHours)
	}
	return nil
}
