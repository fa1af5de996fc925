// Package config loads client configuration. Precedence: environment
// variables over the optional config.yaml in the client directory, over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const configFile = "config.yaml"

// Config holds client settings.
type Config struct {
	ServerURL string        `env:"NUTRIPLAN_SERVER_URL" yaml:"server_url"`
	Dir       string        `env:"NUTRIPLAN_DIR" yaml:"dir"`
	CacheDir  string        `env:"NUTRIPLAN_CACHE_DIR" yaml:"cache_dir"`
	Timeout   time.Duration `env:"NUTRIPLAN_TIMEOUT" yaml:"timeout"`
	Debug     bool          `env:"NUTRIPLAN_DEBUG" yaml:"debug"`
}

// Default returns the built-in configuration. The client directory
// defaults to ~/.nutriplan; with no resolvable home it stays empty and
// the store runs memory-only.
func Default() Config {
	cfg := Config{
		ServerURL: "https://api.nutriplan.app",
		Timeout:   30 * time.Second,
	}

	if home, err := os.UserHomeDir(); err == nil {
		cfg.Dir = filepath.Join(home, ".nutriplan")
		cfg.CacheDir = filepath.Join(cfg.Dir, "httpcache")
	}

	return cfg
}

// Load resolves the effective configuration.
func Load() (Config, error) {
	cfg := Default()

	// The directory may itself be overridden by env before the file in it
	// is read.
	if dir := os.Getenv("NUTRIPLAN_DIR"); dir != "" {
		cfg.Dir = dir
	}

	if cfg.Dir != "" {
		if err := loadFile(filepath.Join(cfg.Dir, configFile), &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// loadFile overlays settings from a YAML file. A missing file is fine; a
// malformed one is an error the user needs to see.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return nil
}
