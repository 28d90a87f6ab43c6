package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Hybrid keeps records in SQLite and entry content in one JSON file per
// content ID under <dataDir>/media.
type Hybrid struct {
	*DB
	mediaDir string
}

// Ensure Hybrid implements Store interface.
var _ Store = (*Hybrid)(nil)

// NewHybrid wraps db, storing content blobs under dataDir.
func NewHybrid(db *DB, dataDir string) (*Hybrid, error) {
	mediaDir := filepath.Join(dataDir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Hybrid{DB: db, mediaDir: mediaDir}, nil
}

// Kind returns the backend name.
func (h *Hybrid) Kind() string {
	return "hybrid"
}

func (h *Hybrid) blobPath(id string) string {
	return filepath.Join(h.mediaDir, id+".json")
}

// UpsertEntryContent writes the content blob, replacing any previous one.
func (h *Hybrid) UpsertEntryContent(_ context.Context, content model.EntryContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	tmp, err := os.CreateTemp(h.mediaDir, ".blob-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), h.blobPath(content.ID()))
}

// EntryContent reads a content blob by ID.
func (h *Hybrid) EntryContent(_ context.Context, id string) (model.EntryContent, error) {
	data, err := os.ReadFile(h.blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return model.EntryContent{}, fmt.Errorf("entry content %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.EntryContent{}, err
	}

	var content model.EntryContent
	if err := json.Unmarshal(data, &content); err != nil {
		return model.EntryContent{}, fmt.Errorf("decode content %s: %w", id, err)
	}
	return content, nil
}

// EntryContentExists reports whether a content blob exists.
func (h *Hybrid) EntryContentExists(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(h.blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// DeleteEntryContent removes a content blob. Missing blobs are ignored.
func (h *Hybrid) DeleteEntryContent(_ context.Context, id string) error {
	err := os.Remove(h.blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// DeleteFeedEntry removes an entry and its content blob.
func (h *Hybrid) DeleteFeedEntry(ctx context.Context, id string) error {
	if err := h.DB.DeleteFeedEntry(ctx, id); err != nil {
		return err
	}
	return h.DeleteEntryContent(ctx, id)
}

// DeleteFeed removes the feed records, then the content blobs of its entries.
func (h *Hybrid) DeleteFeed(ctx context.Context, id string) error {
	entries, err := h.DB.FeedEntries(ctx, EntryFilter{FeedID: id})
	if err != nil {
		return err
	}
	if err := h.DB.DeleteFeed(ctx, id); err != nil {
		return err
	}

	var errs error
	for _, e := range entries {
		errs = multierr.Append(errs, h.DeleteEntryContent(ctx, e.ID()))
	}
	return errs
}

// GetEntryContent returns the content blob, retrieving it first when missing or on redrive.
func (h *Hybrid) GetEntryContent(ctx context.Context, entry model.FeedEntry, redrive bool) (model.EntryContent, error) {
	return GetEntryContent(ctx, h, entry, redrive, h.logger)
}
