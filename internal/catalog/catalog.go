// Package catalog builds upstream requests, with their cache policies, for the
// endpoints the application reads.
package catalog

import (
	"time"

	"github.com/l0p7/iowa/internal/cache"
	"github.com/l0p7/iowa/internal/config"
	"github.com/l0p7/iowa/internal/upstream"
)

// DefaultStatusURL serves shard status outside the regional hosts.
const DefaultStatusURL = "https://status.leagueoflegends.com/shards"

// Tiers are the cache lifetimes endpoints choose from.
type Tiers struct {
	VeryShort time.Duration
	Short     time.Duration
	Medium    time.Duration
	Long      time.Duration
	VeryLong  time.Duration
}

// TiersFromConfig converts the configured seconds into durations.
func TiersFromConfig(cfg config.CacheTimesConfig) Tiers {
	return Tiers{
		VeryShort: cfg.Tier(cfg.VeryShort),
		Short:     cfg.Tier(cfg.Short),
		Medium:    cfg.Tier(cfg.Medium),
		Long:      cfg.Tier(cfg.Long),
		VeryLong:  cfg.Tier(cfg.VeryLong),
	}
}

// Option adjusts a single request.
type Option func(*options)

type options struct {
	cache bool
}

// WithCache overrides whether the result is cached. Caching is on by default.
func WithCache(enabled bool) Option {
	return func(o *options) { o.cache = enabled }
}

// Catalog maps endpoint names to requests.
type Catalog struct {
	tiers     Tiers
	statusURL string
}

// New returns a Catalog using tiers for cache lifetimes.
func New(tiers Tiers) *Catalog {
	return &Catalog{tiers: tiers, statusURL: DefaultStatusURL}
}

func (c *Catalog) build(req upstream.Request, policy cache.Policy, opts []Option) upstream.Request {
	o := options{cache: true}
	for _, opt := range opts {
		opt(&o)
	}
	policy.Enabled = o.cache
	req.Cache = &policy
	return req
}

// params keeps only the entries that carry a value so absent filters never
// distinguish otherwise identical cache entries.
func params(kv map[string]any) map[string]any {
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		switch value := v.(type) {
		case nil:
			continue
		case string:
			if value == "" {
				continue
			}
		case []string:
			if len(value) == 0 {
				continue
			}
		case int64:
			if value == 0 {
				continue
			}
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
