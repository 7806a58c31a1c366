package shelfsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Store.JournalMode != "WAL" {
		t.Errorf("expected WAL journal mode, got %s", config.Store.JournalMode)
	}
	if config.Client.BaseURL != "https://connect.squareup.com" {
		t.Errorf("unexpected base URL: %s", config.Client.BaseURL)
	}
	if config.Queue.MaxRetries != 3 {
		t.Errorf("expected retry budget 3, got %d", config.Queue.MaxRetries)
	}
	if config.Queue.DrainInterval != 30*time.Second {
		t.Errorf("expected 30s drain interval, got %v", config.Queue.DrainInterval)
	}
	if config.Conflict.DefaultStrategy != StrategyLastWriteWins {
		t.Errorf("expected LWW default, got %s", config.Conflict.DefaultStrategy)
	}
	if config.Conflict.HistoryLimit != 100 {
		t.Errorf("expected history limit 100, got %d", config.Conflict.HistoryLimit)
	}
	if config.Store.FailedOpLimit != 50 {
		t.Errorf("expected failure log limit 50, got %d", config.Store.FailedOpLimit)
	}
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
store:
  path: /tmp/custom.db
client:
  base_url: https://sandbox.example.com
  page_limit: 50
conflict:
  default_strategy: field_level_merge
queue:
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if config.Store.Path != "/tmp/custom.db" {
		t.Errorf("expected custom path, got %s", config.Store.Path)
	}
	if config.Client.BaseURL != "https://sandbox.example.com" {
		t.Errorf("expected custom base URL, got %s", config.Client.BaseURL)
	}
	if config.Client.PageLimit != 50 {
		t.Errorf("expected page limit 50, got %d", config.Client.PageLimit)
	}
	if config.Conflict.DefaultStrategy != StrategyFieldMerge {
		t.Errorf("expected field merge, got %s", config.Conflict.DefaultStrategy)
	}
	if config.Queue.MaxRetries != 5 {
		t.Errorf("expected retry budget 5, got %d", config.Queue.MaxRetries)
	}

	// Untouched sections keep defaults.
	if config.Store.JournalMode != "WAL" {
		t.Errorf("expected default journal mode preserved, got %s", config.Store.JournalMode)
	}
	if config.Queue.DrainInterval != 30*time.Second {
		t.Errorf("expected default drain interval preserved, got %v", config.Queue.DrainInterval)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
