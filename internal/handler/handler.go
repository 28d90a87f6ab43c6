// Package handler defines the pluggable capability roles (content retrieval,
// summarization, notification) and the registry that builds them from stored
// configuration.
package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Role names one capability partition of the registry.
type Role string

const (
	RoleNotification Role = "notification"
	RoleLLM          Role = "llm"
	RoleContent      Role = "content"
)

// Handler is implemented by every concrete handler. The exported fields of a
// handler are its persisted configuration.
type Handler interface {
	ID() string
}

// SummarizeFunc produces an optional markdown summary of extracted content.
// An empty result means no summary.
type SummarizeFunc func(ctx context.Context, feed model.Feed, entry model.FeedEntry, content string) string

// ContentRetriever turns an entry into EntryContent. It never fails; problems
// are reported through the Unretrievable and Banned flags.
type ContentRetriever interface {
	Handler
	GetContent(ctx context.Context, entry model.FeedEntry, feed model.Feed, summarize SummarizeFunc) model.EntryContent
}

// HTMLFetcher is the retrieval primitive each content handler supplies.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string, useScript bool) (string, error)
}

// Summarizer wraps an LLM. Implementations swallow backend errors and return "".
type Summarizer interface {
	Handler
	Summarize(ctx context.Context, feed model.Feed, entry model.FeedEntry, content string) string
}

// Notifier dispatches new-entry notifications. Login and Logout are called once
// per process, not per notification.
type Notifier interface {
	Handler
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	SendNotification(ctx context.Context, feed model.Feed, entry model.FeedEntry) error
}

// Env carries process-level dependencies into every handler the registry builds.
type Env struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// WithDefaults fills unset fields with usable defaults.
func (e Env) WithDefaults() Env {
	if e.HTTPClient == nil {
		e.HTTPClient = http.DefaultClient
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.UserAgent == "" {
		e.UserAgent = "rssynthesis"
	}
	return e
}

// ReadLink is the in-app deep link for an entry.
func ReadLink(baseURL string, entry model.FeedEntry) string {
	return strings.TrimRight(baseURL, "/") + "/read/" + entry.ID()
}

// RouteDestination resolves the target for a feed: the routing map entry for the
// feed's notify destination when present, else the handler default.
func RouteDestination[T any](routing map[string]T, fallback T, feed model.Feed) T {
	if feed.NotifyDestination == "" {
		return fallback
	}
	if target, ok := routing[feed.NotifyDestination]; ok {
		return target
	}
	return fallback
}
