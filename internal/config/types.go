package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every option the process needs to stand up the API client and its HTTP surface.
type Config struct {
	Server     ServerConfig      `koanf:"server"`
	Cache      CacheConfig       `koanf:"cache"`
	Upstream   UpstreamConfig    `koanf:"upstream"`
	RateLimits []RateLimitConfig `koanf:"rateLimits"`

	// Sources records which files contributed to the snapshot so the
	// credential watcher knows what to observe.
	Sources []string `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig describes where responses are persisted and for how long.
type CacheConfig struct {
	Directory    string            `koanf:"directory"`
	SaveFailures bool              `koanf:"saveFailures"`
	SecretParams []string          `koanf:"secretParams"`
	Times        CacheTimesConfig  `koanf:"times"`
	Memory       CacheMemoryConfig `koanf:"memory"`
}

// CacheTimesConfig holds the TTL tiers in seconds.
type CacheTimesConfig struct {
	VeryShort int `koanf:"veryShort"`
	Short     int `koanf:"short"`
	Medium    int `koanf:"medium"`
	Long      int `koanf:"long"`
	VeryLong  int `koanf:"veryLong"`
}

type CacheMemoryConfig struct {
	Backend    string           `koanf:"backend"`
	MaxEntries int              `koanf:"maxEntries"`
	Redis      CacheRedisConfig `koanf:"redis"`
}

type CacheRedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      CacheTLSConfig `koanf:"tls"`
}

type CacheTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// UpstreamConfig covers the remote service: credential, timeouts, retry ceiling and region hosts.
type UpstreamConfig struct {
	APIKey            string            `koanf:"apiKey"`
	CredentialParam   string            `koanf:"credentialParam"`
	Scheme            string            `koanf:"scheme"`
	ConnectTimeout    string            `koanf:"connectTimeout"`
	ResponseTimeout   string            `koanf:"responseTimeout"`
	MaxRetries        int               `koanf:"maxRetries"`
	DefaultRetryAfter string            `koanf:"defaultRetryAfter"`
	Regions           map[string]string `koanf:"regions"`
}

// RateLimitConfig is one "N requests per M seconds" contract.
type RateLimitConfig struct {
	Requests int `koanf:"requests"`
	Seconds  int `koanf:"seconds"`
}

// Window returns the constraint's window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.Seconds) * time.Second
}

// Tier returns a TTL tier as a duration.
func (t CacheTimesConfig) Tier(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// ConnectTimeoutDuration parses upstream.connectTimeout, falling back to 3s.
func (u UpstreamConfig) ConnectTimeoutDuration() time.Duration {
	return parseDurationOr(u.ConnectTimeout, 3*time.Second)
}

// ResponseTimeoutDuration parses upstream.responseTimeout, falling back to 15s.
func (u UpstreamConfig) ResponseTimeoutDuration() time.Duration {
	return parseDurationOr(u.ResponseTimeout, 15*time.Second)
}

// DefaultRetryAfterDuration parses upstream.defaultRetryAfter, falling back to 1s.
func (u UpstreamConfig) DefaultRetryAfterDuration() time.Duration {
	return parseDurationOr(u.DefaultRetryAfter, time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate enforces invariants that keep the client predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Cache.Directory) == "" {
		return errors.New("config: cache.directory required")
	}
	tiers := map[string]int{
		"veryShort": c.Cache.Times.VeryShort,
		"short":     c.Cache.Times.Short,
		"medium":    c.Cache.Times.Medium,
		"long":      c.Cache.Times.Long,
		"veryLong":  c.Cache.Times.VeryLong,
	}
	for name, seconds := range tiers {
		if seconds <= 0 {
			return fmt.Errorf("config: cache.times.%s invalid: %d", name, seconds)
		}
	}
	switch strings.TrimSpace(strings.ToLower(c.Cache.Memory.Backend)) {
	case "", "lru":
	case "redis":
		if strings.TrimSpace(c.Cache.Memory.Redis.Address) == "" {
			return errors.New("config: cache.memory.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.memory.backend unsupported: %s", c.Cache.Memory.Backend)
	}
	if c.Cache.Memory.MaxEntries < 0 {
		return fmt.Errorf("config: cache.memory.maxEntries invalid: %d", c.Cache.Memory.MaxEntries)
	}
	if len(c.RateLimits) == 0 {
		return errors.New("config: at least one rateLimits entry required")
	}
	for i, limit := range c.RateLimits {
		if limit.Requests <= 0 {
			return fmt.Errorf("config: rateLimits[%d].requests invalid: %d", i, limit.Requests)
		}
		if limit.Seconds <= 0 {
			return fmt.Errorf("config: rateLimits[%d].seconds invalid: %d", i, limit.Seconds)
		}
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("config: upstream.maxRetries invalid: %d", c.Upstream.MaxRetries)
	}
	if strings.TrimSpace(c.Upstream.CredentialParam) == "" {
		return errors.New("config: upstream.credentialParam required")
	}
	switch strings.TrimSpace(strings.ToLower(c.Upstream.Scheme)) {
	case "", "http", "https":
	default:
		return fmt.Errorf("config: upstream.scheme unsupported: %s", c.Upstream.Scheme)
	}
	for name, host := range c.Upstream.Regions {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("config: upstream.regions.%s host empty", name)
		}
	}
	return nil
}

// DefaultRegions maps the short region names to their platform hosts.
func DefaultRegions() map[string]string {
	return map[string]string{
		"na":   "na1.api.riotgames.com",
		"eune": "eun1.api.riotgames.com",
		"euw":  "euw1.api.riotgames.com",
		"oce":  "oc1.api.riotgames.com",
		"br":   "br1.api.riotgames.com",
		"jp":   "jp1.api.riotgames.com",
		"kr":   "kr.api.riotgames.com",
		"lan":  "la1.api.riotgames.com",
		"las":  "la2.api.riotgames.com",
		"tr":   "tr1.api.riotgames.com",
		"ru":   "ru.api.riotgames.com",
		"pbe":  "pbe1.api.riotgames.com",
	}
}

// DefaultConfig returns the baseline values used before files and env are applied.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Cache: CacheConfig{
			Directory:    ".cache",
			SecretParams: []string{"api_key"},
			Times: CacheTimesConfig{
				VeryShort: 60,
				Short:     600,
				Medium:    3600,
				Long:      21600,
				VeryLong:  86400,
			},
			Memory: CacheMemoryConfig{
				Backend:    "lru",
				MaxEntries: 4096,
			},
		},
		Upstream: UpstreamConfig{
			CredentialParam:   "api_key",
			Scheme:            "https",
			ConnectTimeout:    "3s",
			ResponseTimeout:   "15s",
			MaxRetries:        5,
			DefaultRetryAfter: "1s",
			Regions:           DefaultRegions(),
		},
		RateLimits: []RateLimitConfig{
			{Requests: 10, Seconds: 10},
			{Requests: 500, Seconds: 600},
		},
	}
}
