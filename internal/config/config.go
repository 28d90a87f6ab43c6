// Package config loads process configuration and the declarative feed,
// settings and handler files.
package config

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
	"github.com/samber/lo"
)

// Config is read from HCL files and RSS_ prefixed environment variables.
type Config struct {
	Storage          string        `hcl:"storage" env:"STORAGE" default:"sqlite"`
	DataDir          string        `hcl:"data_dir" env:"DATA_DIR" default:"./data"`
	DatabaseDSN      string        `hcl:"database_dsn" env:"DATABASE_DSN"`
	ConfigDir        string        `hcl:"config_dir" env:"CONFIG_DIR" default:"./configs"`
	BaseURL          string        `hcl:"base_url" env:"BASE_URL" default:"http://127.0.0.1:8000"`
	ListenAddr       string        `hcl:"listen_addr" env:"LISTEN_ADDR" default:"127.0.0.1:8000"`
	LogLevel         string        `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat        string        `hcl:"log_format" env:"LOG_FORMAT" default:"console"`
	ColdStartEntries int           `hcl:"cold_start_entries" env:"COLD_START_ENTRIES" default:"5"`
	UserAgent        string        `hcl:"user_agent" env:"USER_AGENT" default:"rssynthesis/1.0"`
	FetchTimeout     time.Duration `hcl:"fetch_timeout" env:"FETCH_TIMEOUT" default:"30s"`
}

// DefaultFiles are the HCL files searched when Load is given none.
var DefaultFiles = []string{"./rssynthesis.hcl", "$HOME/.config/rssynthesis/config.hcl"}

// Load reads the configuration. Missing files are skipped.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = lo.Map(DefaultFiles, func(f string, _ int) string { return os.ExpandEnv(f) })
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "RSS",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
