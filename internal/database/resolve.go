package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// handlerCache keeps one instance per handler key for as long as its stored
// configuration does not change.
type handlerCache struct {
	registry *handler.Registry

	mu      sync.Mutex
	entries map[string]cachedHandler
}

type cachedHandler struct {
	config string
	h      handler.Handler
}

func newHandlerCache(registry *handler.Registry) *handlerCache {
	return &handlerCache{registry: registry, entries: make(map[string]cachedHandler)}
}

func (c *handlerCache) get(id, config string) (handler.Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok && e.config == config {
		return e.h, nil
	}
	h, err := c.registry.Restore(id, []byte(config))
	if err != nil {
		return nil, err
	}
	c.entries[id] = cachedHandler{config: config, h: h}
	return h, nil
}

func (c *handlerCache) put(id, config string, h handler.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cachedHandler{config: config, h: h}
}

// Active is the handler backing each role under the current settings.
type Active struct {
	Notifier   handler.Notifier
	Summarizer handler.Summarizer
	Content    handler.ContentRetriever
}

// ResolveHandler returns the stored handler for key, or a default-constructed
// one when it was never configured.
func ResolveHandler(ctx context.Context, s Store, key string) (handler.Handler, error) {
	h, err := s.Handler(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return s.Registry().Default(key)
	}
	return h, err
}

// ActiveHandlers resolves the three role handlers selected by the stored settings.
func ActiveHandlers(ctx context.Context, s Store) (Active, error) {
	settings := s.Settings(ctx)

	var active Active
	var ok bool

	h, err := ResolveHandler(ctx, s, settings.NotificationHandlerKey)
	if err != nil {
		return Active{}, err
	}
	if active.Notifier, ok = h.(handler.Notifier); !ok {
		return Active{}, fmt.Errorf("handler %q is not a notification handler", h.ID())
	}

	h, err = ResolveHandler(ctx, s, settings.LLMHandlerKey)
	if err != nil {
		return Active{}, err
	}
	if active.Summarizer, ok = h.(handler.Summarizer); !ok {
		return Active{}, fmt.Errorf("handler %q is not a summarization handler", h.ID())
	}

	h, err = ResolveHandler(ctx, s, settings.ContentRetrievalHandlerKey)
	if err != nil {
		return Active{}, err
	}
	if active.Content, ok = h.(handler.ContentRetriever); !ok {
		return Active{}, fmt.Errorf("handler %q is not a content handler", h.ID())
	}

	return active, nil
}

// CascadeHandlers persists the handler selected for each role so the handler
// table always lists the active ones.
func CascadeHandlers(ctx context.Context, s Store, settings model.GlobalSettings) error {
	for _, key := range []string{
		settings.NotificationHandlerKey,
		settings.LLMHandlerKey,
		settings.ContentRetrievalHandlerKey,
	} {
		h, err := ResolveHandler(ctx, s, key)
		if err != nil {
			return fmt.Errorf("resolve handler %q: %w", key, err)
		}
		if err := s.UpsertHandler(ctx, h); err != nil {
			return fmt.Errorf("persist handler %q: %w", key, err)
		}
	}
	return nil
}

// GetEntryContent returns the stored content for entry. When none is stored,
// or redrive is set, content is retrieved with the active handlers and stored
// before it is returned.
func GetEntryContent(ctx context.Context, s Store, entry model.FeedEntry, redrive bool, logger *zap.Logger) (model.EntryContent, error) {
	id := entry.ID()
	if !redrive {
		content, err := s.EntryContent(ctx, id)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.EntryContent{}, err
		}
	}

	feed, err := s.Feed(ctx, entry.FeedID)
	if err != nil {
		return model.EntryContent{}, err
	}
	active, err := ActiveHandlers(ctx, s)
	if err != nil {
		return model.EntryContent{}, fmt.Errorf("resolve handlers: %w", err)
	}

	logger.Debug("retrieving entry content",
		zap.String("entry_id", id),
		zap.String("handler", active.Content.ID()),
		zap.Bool("redrive", redrive),
	)
	content := active.Content.GetContent(ctx, entry, feed, active.Summarizer.Summarize)

	if err := s.UpsertEntryContent(ctx, content); err != nil {
		return model.EntryContent{}, fmt.Errorf("store entry content: %w", err)
	}
	return content, nil
}
