package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ".tasksyncrc"), []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())

	cfg, err := cm.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Fatalf("expected 30m freshness window, got %v", cfg.CacheTTL)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("expected 3s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.RetryCeiling != 5 {
		t.Fatalf("expected retry ceiling 5, got %d", cfg.RetryCeiling)
	}
	if cfg.StorageBackend != "file" {
		t.Fatalf("expected file backend, got %q", cfg.StorageBackend)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
api:
  base_url: https://tasks.example.com/api/v1
  token: secret-token
storage:
  backend: sqlite
cache:
  ttl: 10m
poll:
  interval: 5s
queue:
  retry_ceiling: 3
`)

	cfg, err := NewConfigurationManager(dir).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIBaseURL != "https://tasks.example.com/api/v1" {
		t.Fatalf("unexpected base url %q", cfg.APIBaseURL)
	}
	if cfg.APIToken != "secret-token" {
		t.Fatalf("unexpected token %q", cfg.APIToken)
	}
	if cfg.StorageBackend != "sqlite" {
		t.Fatalf("unexpected backend %q", cfg.StorageBackend)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Fatalf("unexpected ttl %v", cfg.CacheTTL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.PollInterval)
	}
	if cfg.RetryCeiling != 3 {
		t.Fatalf("unexpected retry ceiling %d", cfg.RetryCeiling)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
api:
  token: secret-token
`)

	cfg, err := NewConfigurationManager(dir).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIToken != "secret-token" {
		t.Fatalf("unexpected token %q", cfg.APIToken)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Fatalf("unset keys must keep their defaults, got ttl %v", cfg.CacheTTL)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
storage:
  backend: redis
`)

	if _, err := NewConfigurationManager(dir).Load(); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "api: [not: closed")

	if _, err := NewConfigurationManager(dir).Load(); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}
