package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/insight/pkg/api"
)

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{Environ: environ("INSIGHT_DATA_DIR=" + dir)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != api.DefaultBaseURL {
		t.Errorf("api_url = %q", cfg.APIURL)
	}
	if cfg.PollInterval != 3*time.Second || cfg.Retention != 24*time.Hour || cfg.HistoryLimit != 50 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.DBPath() != filepath.Join(dir, "state.db") {
		t.Errorf("db path = %q", cfg.DBPath())
	}
}

func TestLayering(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(`{
		"api_url": "https://file.example",
		"poll_interval": "5s",
		"history_limit": 10,
		"log_format": "json"
	}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{
		Environ: environ(
			"INSIGHT_DATA_DIR="+dir,
			"INSIGHT_POLL_INTERVAL=7s",
			"INSIGHT_MAX_RETRIES=1",
			"UNRELATED=1",
		),
		Overrides: map[string]any{"history_limit": 3},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "https://file.example" {
		t.Errorf("file should set api_url, got %q", cfg.APIURL)
	}
	if cfg.PollInterval != 7*time.Second {
		t.Errorf("env should win over file, poll_interval = %v", cfg.PollInterval)
	}
	if cfg.MaxRetries != 1 {
		t.Errorf("max_retries = %d, want 1", cfg.MaxRetries)
	}
	if cfg.HistoryLimit != 3 {
		t.Errorf("overrides should win, history_limit = %d", cfg.HistoryLimit)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("log_format = %q", cfg.LogFormat)
	}
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.json"), Environ: environ()})
	if err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	_, err := Load(Options{Environ: environ(
		"INSIGHT_DATA_DIR="+t.TempDir(),
		"INSIGHT_LOG_FORMAT=xml",
		"INSIGHT_HISTORY_LIMIT=0",
	)})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_format", "history_limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
