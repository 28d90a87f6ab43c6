package content

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

const defaultBrowserTimeout = 60 * time.Second

var blockedResources = []network.ResourceType{
	network.ResourceTypeStylesheet,
	network.ResourceTypeImage,
	network.ResourceTypeFont,
}

// BrowserRetriever renders pages in headless Chrome. Stylesheets, images and
// fonts are always blocked; scripts are blocked unless the feed asks for them.
type BrowserRetriever struct {
	ExecPath       string `json:"exec_path,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`

	env handler.Env
}

// NewBrowserRetriever is the registry factory for the "browser" key.
func NewBrowserRetriever(env handler.Env) handler.Handler {
	return &BrowserRetriever{env: env.WithDefaults()}
}

func (b *BrowserRetriever) ID() string { return "browser" }

// GetContent runs the shared retrieval algorithm with a browser render.
func (b *BrowserRetriever) GetContent(ctx context.Context, entry model.FeedEntry, feed model.Feed, summarize handler.SummarizeFunc) model.EntryContent {
	return handler.RetrieveContent(ctx, b, entry, feed, summarize, b.env.Logger.Named("browser"))
}

// Blocked reports whether a subresource of type rt is aborted.
func Blocked(rt network.ResourceType, useScript bool) bool {
	if rt == network.ResourceTypeScript {
		return !useScript
	}
	return slices.Contains(blockedResources, rt)
}

// FetchHTML launches a browser, loads url and returns the rendered document.
func (b *BrowserRetriever) FetchHTML(ctx context.Context, url string, useScript bool) (string, error) {
	timeout := defaultBrowserTimeout
	if b.TimeoutSeconds > 0 {
		timeout = time.Duration(b.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(b.env.UserAgent))
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	log := b.env.Logger.Named("browser")
	chromedp.ListenTarget(taskCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(taskCtx)
			execCtx := cdp.WithExecutor(taskCtx, c.Target)

			var err error
			if Blocked(paused.ResourceType, useScript) {
				err = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			} else {
				err = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
			}
			if err != nil {
				log.Debug("intercept request", zap.Error(err))
			}
		}()
	})

	var html string
	err := chromedp.Run(taskCtx,
		fetch.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}
