package database

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
)

// Options selects and locates a storage backend.
type Options struct {
	Kind    string // sqlite, postgres or hybrid
	DataDir string
	DSN     string // postgres only
}

// Open builds the backend named by opts.Kind.
func Open(opts Options, registry *handler.Registry, logger *zap.Logger) (Store, error) {
	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	switch opts.Kind {
	case "", "sqlite":
		return openSQLite(opts, registry, logger)
	case "postgres":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires a database dsn")
		}
		return NewPostgres(opts.DSN, registry, logger)
	case "hybrid":
		db, err := openSQLite(opts, registry, logger)
		if err != nil {
			return nil, err
		}
		h, err := NewHybrid(db, opts.DataDir)
		if err != nil {
			db.Close()
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
	}
}

func openSQLite(opts Options, registry *handler.Registry, logger *zap.Logger) (*DB, error) {
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return New(filepath.Join(opts.DataDir, "rssynthesis.db"), registry, logger)
}
