// Package config loads insight's settings.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults
//  2. a JSON file (--config, or <data_dir>/config.json when present)
//  3. INSIGHT_* environment variables, e.g. INSIGHT_API_URL
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jmylchreest/insight/pkg/api"
	"github.com/jmylchreest/insight/pkg/httputil"
	"github.com/jmylchreest/insight/pkg/monitor"
	"github.com/jmylchreest/insight/pkg/session"
	"github.com/jmylchreest/insight/pkg/watcher"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INSIGHT_"

// DefaultDataDir holds local state, relative to the working directory.
const DefaultDataDir = ".insight"

// FileName is the config file looked up inside the data directory.
const FileName = "config.json"

// Config is the resolved configuration.
type Config struct {
	APIURL       string        `koanf:"api_url"`
	DataDir      string        `koanf:"data_dir"`
	PollInterval time.Duration `koanf:"poll_interval"`
	HTTPTimeout  time.Duration `koanf:"http_timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	Retention    time.Duration `koanf:"retention"`
	HistoryLimit int           `koanf:"history_limit"`
	ServeAddr    string        `koanf:"serve_addr"`
	LogLevel     string        `koanf:"log_level"`
	LogFormat    string        `koanf:"log_format"`
	WatchDelay   time.Duration `koanf:"watch_delay"`
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"api_url":       api.DefaultBaseURL,
		"data_dir":      DefaultDataDir,
		"poll_interval": monitor.DefaultPollInterval,
		"http_timeout":  httputil.DefaultHTTPTimeout,
		"max_retries":   httputil.DefaultMaxRetries,
		"retention":     session.DefaultRetention,
		"history_limit": session.DefaultHistoryLimit,
		"serve_addr":    "127.0.0.1:8080",
		"log_level":     "info",
		"log_format":    "text",
		"watch_delay":   watcher.DefaultDebounceDelay,
	}
}

// Options adjusts loading.
type Options struct {
	// File is an explicit config file; it must exist.
	File string
	// Overrides win over every other source (CLI flags).
	Overrides map[string]any
	// Environ replaces os.Environ, for tests.
	Environ func() []string
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}
	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
		EnvironFunc: environ,
	})

	path := opts.File
	if path == "" {
		// The data dir may itself come from the environment or a flag.
		probe := koanf.New(".")
		_ = probe.Load(confmap.Provider(Defaults(), "."), nil)
		_ = probe.Load(envProvider, nil)
		if opts.Overrides != nil {
			_ = probe.Load(confmap.Provider(opts.Overrides, "."), nil)
		}
		candidate := filepath.Join(probe.String("data_dir"), FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if opts.Overrides != nil {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIURL) == "" {
		errs = append(errs, errors.New("api_url must be set"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("history_limit must be positive"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DBPath is the bbolt state file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}
