package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	var sources []string
	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"cache.savefailures":            "cache.saveFailures",
			"cache.secretparams":            "cache.secretParams",
			"cache.times.veryshort":         "cache.times.veryShort",
			"cache.times.verylong":          "cache.times.veryLong",
			"cache.memory.maxentries":       "cache.memory.maxEntries",
			"cache.memory.redis.tls.cafile": "cache.memory.redis.tls.caFile",
			"upstream.apikey":               "upstream.apiKey",
			"upstream.credentialparam":      "upstream.credentialParam",
			"upstream.connecttimeout":       "upstream.connectTimeout",
			"upstream.responsetimeout":      "upstream.responseTimeout",
			"upstream.maxretries":           "upstream.maxRetries",
			"upstream.defaultretryafter":    "upstream.defaultRetryAfter",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (CACHE__TIMES__SHORT -> cache.times.short).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Sources = sources
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %s", ext)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	regions := make(map[string]any, len(cfg.Upstream.Regions))
	for name, host := range cfg.Upstream.Regions {
		regions[name] = host
	}
	limits := make([]any, 0, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits = append(limits, map[string]any{
			"requests": limit.Requests,
			"seconds":  limit.Seconds,
		})
	}
	secrets := make([]any, 0, len(cfg.Cache.SecretParams))
	for _, name := range cfg.Cache.SecretParams {
		secrets = append(secrets, name)
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"cache": map[string]any{
			"directory":    cfg.Cache.Directory,
			"saveFailures": cfg.Cache.SaveFailures,
			"secretParams": secrets,
			"times": map[string]any{
				"veryShort": cfg.Cache.Times.VeryShort,
				"short":     cfg.Cache.Times.Short,
				"medium":    cfg.Cache.Times.Medium,
				"long":      cfg.Cache.Times.Long,
				"veryLong":  cfg.Cache.Times.VeryLong,
			},
			"memory": map[string]any{
				"backend":    cfg.Cache.Memory.Backend,
				"maxEntries": cfg.Cache.Memory.MaxEntries,
				"redis": map[string]any{
					"address":  cfg.Cache.Memory.Redis.Address,
					"username": cfg.Cache.Memory.Redis.Username,
					"password": cfg.Cache.Memory.Redis.Password,
					"db":       cfg.Cache.Memory.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Cache.Memory.Redis.TLS.Enabled,
						"caFile":  cfg.Cache.Memory.Redis.TLS.CAFile,
					},
				},
			},
		},
		"upstream": map[string]any{
			"apiKey":            cfg.Upstream.APIKey,
			"credentialParam":   cfg.Upstream.CredentialParam,
			"connectTimeout":    cfg.Upstream.ConnectTimeout,
			"responseTimeout":   cfg.Upstream.ResponseTimeout,
			"maxRetries":        cfg.Upstream.MaxRetries,
			"defaultRetryAfter": cfg.Upstream.DefaultRetryAfter,
			"regions":           regions,
		},
		"rateLimits": limits,
	}
}
