package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsCredential(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "iowa.yaml")
	if err := os.WriteFile(path, []byte("upstream:\n  apiKey: RGAPI-one\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader("", path)
	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)

	watcher, err := loader.Watch(ctx, func(cfg Config) {
		changeCh <- cfg
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("upstream:\n  apiKey: RGAPI-two\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case cfg := <-changeCh:
		if cfg.Upstream.APIKey != "RGAPI-two" {
			t.Fatalf("expected rotated key, got %q", cfg.Upstream.APIKey)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload event")
	}
}

func TestWatchReportsInvalidSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "iowa.yaml")
	if err := os.WriteFile(path, []byte("upstream:\n  apiKey: RGAPI-one\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)
	watcher, err := NewLoader("", path).Watch(ctx, func(cfg Config) {
		changeCh <- cfg
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("rateLimits: []\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case cfg := <-changeCh:
		t.Fatalf("invalid snapshot delivered: %+v", cfg.RateLimits)
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for validation error")
	}
}

func TestWatchRequiresFiles(t *testing.T) {
	if _, err := NewLoader("").Watch(context.Background(), func(Config) {}, nil); err == nil {
		t.Fatal("expected error without files")
	}
	if _, err := NewLoader("", "iowa.yaml").Watch(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error without callback")
	}
}
