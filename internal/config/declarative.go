package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Declarative is the startup state read from the config directory.
type Declarative struct {
	Feeds    []model.Feed
	Settings *model.GlobalSettings
	Handlers map[string]json.RawMessage
}

// LoadDeclarative reads feeds.yml, settings.yml and handlers.yml from dir.
// Missing files leave the matching field empty.
func LoadDeclarative(dir string) (Declarative, error) {
	var d Declarative

	if _, err := readYAML(filepath.Join(dir, "feeds.yml"), &d.Feeds); err != nil {
		return Declarative{}, err
	}

	settings := model.DefaultSettings()
	found, err := readYAML(filepath.Join(dir, "settings.yml"), &settings)
	if err != nil {
		return Declarative{}, err
	}
	if found {
		d.Settings = &settings
	}

	var handlers map[string]any
	if _, err := readYAML(filepath.Join(dir, "handlers.yml"), &handlers); err != nil {
		return Declarative{}, err
	}
	if len(handlers) > 0 {
		d.Handlers = make(map[string]json.RawMessage, len(handlers))
		for key, cfg := range handlers {
			raw, err := json.Marshal(cfg)
			if err != nil {
				return Declarative{}, fmt.Errorf("handler %q: %w", key, err)
			}
			d.Handlers[key] = raw
		}
	}
	return d, nil
}

func readYAML(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
