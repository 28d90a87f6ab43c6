// Package content provides the content retrieval handlers.
package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

const maxBodyBytes = 10 << 20

// HTTPRetriever fetches pages with a plain GET. Script rendering is not
// supported, so the use_script flag is ignored.
type HTTPRetriever struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	env handler.Env
}

// NewHTTPRetriever is the registry factory for the "http" key.
func NewHTTPRetriever(env handler.Env) handler.Handler {
	return &HTTPRetriever{env: env.WithDefaults()}
}

func (h *HTTPRetriever) ID() string { return "http" }

// GetContent runs the shared retrieval algorithm with a plain GET.
func (h *HTTPRetriever) GetContent(ctx context.Context, entry model.FeedEntry, feed model.Feed, summarize handler.SummarizeFunc) model.EntryContent {
	return handler.RetrieveContent(ctx, h, entry, feed, summarize, h.env.Logger.Named("http"))
}

// FetchHTML returns the page body, or an error for transport failures and
// non-2xx responses.
func (h *HTTPRetriever) FetchHTML(ctx context.Context, url string, _ bool) (string, error) {
	if h.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", h.env.UserAgent)

	resp, err := h.env.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
