package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/gobwas/glob"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// BannedGlobs are URL patterns never retrieved. Matching is case-sensitive and
// '*' spans path separators.
var BannedGlobs = []string{
	"*x.com/*",
	"*twitter.com/*",
	"*reddit.com/*",
	"*youtube.com/*",
	"*notion.site/*",
}

var bannedMatchers = compileGlobs(BannedGlobs)

func compileGlobs(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, glob.MustCompile(p))
	}
	return out
}

// IsBanned reports whether url matches any banned glob.
func IsBanned(url string) bool {
	for _, g := range bannedMatchers {
		if g.Match(url) {
			return true
		}
	}
	return false
}

var redundantNewLines = regexp.MustCompile(`\n{3,}`)

// Extracted is the readability output for one page.
type Extracted struct {
	HTML string // cleaned main-content markup
	Text string // plain text, used as summarizer input
}

// ExtractMainContent isolates the main content of an HTML page. An empty
// result means nothing readable was found.
func ExtractMainContent(html, pageURL string) (Extracted, error) {
	if strings.TrimSpace(html) == "" {
		return Extracted{}, nil
	}
	u, _ := url.Parse(pageURL)

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Extracted{}, fmt.Errorf("readability: %w", err)
	}

	return Extracted{
		HTML: strings.TrimSpace(article.Content),
		Text: strings.TrimSpace(redundantNewLines.ReplaceAllString(article.TextContent, "\n\n")),
	}, nil
}

// RenderMarkdown converts summarizer markdown into HTML.
func RenderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RetrieveContent is the retrieval algorithm shared by every content handler:
// banned check, HTML fetch (or the feed's inline content), readability
// extraction, then summarization. Failures after the banned check are logged
// and reported as unretrievable.
func RetrieveContent(
	ctx context.Context,
	fetcher HTMLFetcher,
	entry model.FeedEntry,
	feed model.Feed,
	summarize SummarizeFunc,
	logger *zap.Logger,
) (out model.EntryContent) {
	log := logger.With(zap.String("entry_id", entry.ID()), zap.String("url", entry.URL))

	if IsBanned(entry.URL) {
		log.Info("entry url is banned, skipping retrieval")
		return model.EntryContent{URL: entry.URL, Banned: true}
	}

	unretrievable := model.EntryContent{URL: entry.URL, Unretrievable: true}
	defer func() {
		if p := recover(); p != nil {
			log.Warn("panic during content retrieval", zap.Any("panic", p))
			out = unretrievable
		}
	}()

	var html string
	if !feed.RetrieveContent {
		log.Debug("feed does not retrieve content, using inline content")
		html = entry.Content
	} else {
		var err error
		html, err = fetcher.FetchHTML(ctx, entry.URL, feed.UseScript)
		if err != nil {
			log.Warn("fetching html failed", zap.Error(err))
			return unretrievable
		}
	}

	extracted, err := ExtractMainContent(html, entry.URL)
	if err != nil {
		log.Warn("extracting content failed", zap.Error(err))
		return unretrievable
	}
	if html == "" || extracted.HTML == "" {
		return unretrievable
	}

	content := model.EntryContent{URL: entry.URL, Content: extracted.HTML}
	if summarize != nil {
		if md := summarize(ctx, feed, entry, extracted.Text); md != "" {
			rendered, err := RenderMarkdown(md)
			if err != nil {
				log.Warn("rendering summary failed", zap.Error(err))
				return unretrievable
			}
			content.Summary = rendered
		}
	}
	return content
}
