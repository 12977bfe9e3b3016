package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name: "returns defaults when no overrides",
			setup: func(t *testing.T) []string {
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, ".cache", cfg.Cache.Directory)
				require.Equal(t, []string{"api_key"}, cfg.Cache.SecretParams)
				require.Len(t, cfg.RateLimits, 2)
				require.Equal(t, "na1.api.riotgames.com", cfg.Upstream.Regions["na"])
				require.Equal(t, 3*time.Second, cfg.Upstream.ConnectTimeoutDuration())
				require.Empty(t, cfg.Sources)
			},
		},
		{
			name: "merges yaml overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "iowa.yaml")
				doc := "cache:\n  directory: /tmp/iowa\n  times:\n    medium: 120\nrateLimits:\n  - requests: 2\n    seconds: 1\n"
				require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "/tmp/iowa", cfg.Cache.Directory)
				require.Equal(t, 120, cfg.Cache.Times.Medium)
				require.Equal(t, 86400, cfg.Cache.Times.VeryLong)
				require.Equal(t, []RateLimitConfig{{Requests: 2, Seconds: 1}}, cfg.RateLimits)
				require.Len(t, cfg.Sources, 1)
			},
		},
		{
			name: "parses json documents",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "iowa.json")
				doc := `{"upstream":{"apiKey":"RGAPI-json","regions":{"pbe":"pbe.example.test"}}}`
				require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "RGAPI-json", cfg.Upstream.APIKey)
				require.Equal(t, "pbe.example.test", cfg.Upstream.Regions["pbe"])
				require.Equal(t, "euw1.api.riotgames.com", cfg.Upstream.Regions["euw"])
			},
		},
		{
			name: "parses toml documents",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "iowa.toml")
				doc := "[server.listen]\nport = 9191\n\n[cache]\nsaveFailures = true\n"
				require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9191, cfg.Server.Listen.Port)
				require.True(t, cfg.Cache.SaveFailures)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "iowa.yaml")
				require.NoError(t, os.WriteFile(path, []byte("upstream:\n  apiKey: from-file\n"), 0o600))
				t.Setenv("IOWA_UPSTREAM__APIKEY", "from-env")
				t.Setenv("IOWA_CACHE__TIMES__VERYSHORT", "5")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "from-env", cfg.Upstream.APIKey)
				require.Equal(t, 5, cfg.Cache.Times.VeryShort)
			},
		},
		{
			name: "missing file",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "absent.yaml")}
			},
			wantErr: true,
		},
		{
			name: "unsupported extension",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "iowa.ini")
				require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
		{
			name: "invalid rate limit",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "iowa.yaml")
				require.NoError(t, os.WriteFile(path, []byte("rateLimits:\n  - requests: 0\n    seconds: 1\n"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			cfg, err := NewLoader("IOWA", files...).Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "port", mutate: func(cfg *Config) { cfg.Server.Listen.Port = 0 }},
		{name: "directory", mutate: func(cfg *Config) { cfg.Cache.Directory = " " }},
		{name: "ttl tier", mutate: func(cfg *Config) { cfg.Cache.Times.Medium = 0 }},
		{name: "memory backend", mutate: func(cfg *Config) { cfg.Cache.Memory.Backend = "memcached" }},
		{name: "redis address", mutate: func(cfg *Config) { cfg.Cache.Memory.Backend = "redis" }},
		{name: "no rate limits", mutate: func(cfg *Config) { cfg.RateLimits = nil }},
		{name: "window", mutate: func(cfg *Config) { cfg.RateLimits[0].Seconds = -1 }},
		{name: "retries", mutate: func(cfg *Config) { cfg.Upstream.MaxRetries = -1 }},
		{name: "credential param", mutate: func(cfg *Config) { cfg.Upstream.CredentialParam = "" }},
		{name: "scheme", mutate: func(cfg *Config) { cfg.Upstream.Scheme = "ftp" }},
		{name: "region host", mutate: func(cfg *Config) { cfg.Upstream.Regions["na"] = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestUpstreamDurations(t *testing.T) {
	up := UpstreamConfig{ConnectTimeout: "250ms", ResponseTimeout: "bogus", DefaultRetryAfter: "-1s"}
	require.Equal(t, 250*time.Millisecond, up.ConnectTimeoutDuration())
	require.Equal(t, 15*time.Second, up.ResponseTimeoutDuration())
	require.Equal(t, time.Second, up.DefaultRetryAfterDuration())
	require.Equal(t, 2*time.Second, RateLimitConfig{Requests: 1, Seconds: 2}.Window())
}
