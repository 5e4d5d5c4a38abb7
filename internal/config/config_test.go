package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "0.0.0.0:9000"
  shutdown_timeout: 30s
session:
  queue_size: 128
  history_limit: 1048576
classifier:
  provider: anthropic
  model: claude-3-5-haiku-20241022
resources:
  inventory_path: /etc/foreman/resources.yaml
  watch: true
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("unexpected shutdown timeout %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Session.QueueSize != 128 || cfg.Session.HistoryLimit != 1048576 {
		t.Errorf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Classifier.Provider != "anthropic" || cfg.Classifier.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("unexpected classifier config %+v", cfg.Classifier)
	}
	if !cfg.Resources.Watch || cfg.Resources.InventoryPath != "/etc/foreman/resources.yaml" {
		t.Errorf("unexpected resources config %+v", cfg.Resources)
	}
}

func TestLoadFromPath_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:8000"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Session.QueueSize != def.Session.QueueSize {
		t.Errorf("queue size default not applied: %d", cfg.Session.QueueSize)
	}
	if cfg.Session.HistoryLimit != def.Session.HistoryLimit {
		t.Errorf("history limit default not applied: %d", cfg.Session.HistoryLimit)
	}
	if cfg.Classifier.Provider != "heuristic" {
		t.Errorf("classifier provider default not applied: %q", cfg.Classifier.Provider)
	}
}

func TestLoadFromPath_RejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
classifier:
  provider: ouija
`)

	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected error for unknown classifier provider")
	}
}

func TestLoadFromPath_ExpandsAPIKeyEnv(t *testing.T) {
	t.Setenv("TEST_FOREMAN_KEY", "sk-test-123")
	path := writeConfig(t, `
classifier:
  provider: anthropic
  api_key: ${TEST_FOREMAN_KEY}
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Classifier.APIKey != "sk-test-123" {
		t.Errorf("api key env reference not expanded: %q", cfg.Classifier.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}

	cfg.Session.HistoryLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative history limit must be rejected")
	}
}
