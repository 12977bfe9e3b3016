package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/l0p7/iowa/internal/cache"
	"github.com/l0p7/iowa/internal/upstream"
)

// Cache resolves a policy against stored results, calling fetch on a miss.
type Cache interface {
	Resolve(ctx context.Context, region string, policy cache.Policy, fetch cache.Fetcher) (json.RawMessage, error)
}

// Gate blocks until a request may be sent upstream.
type Gate interface {
	Admit(ctx context.Context) error
}

// Executor performs one admitted request.
type Executor interface {
	Execute(ctx context.Context, req upstream.Request) (json.RawMessage, error)
}

// Dispatcher routes requests through the cache, then the rate gate and executor on
// a miss. Uncached requests skip the cache entirely but still pass the gate.
type Dispatcher struct {
	cache  Cache
	gate   Gate
	exec   Executor
	logger *slog.Logger
}

// New wires a Dispatcher. A nil cache disables caching for every request.
func New(store Cache, gate Gate, exec Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cache:  store,
		gate:   gate,
		exec:   exec,
		logger: logger.With(slog.String("agent", "dispatcher")),
	}
}

// Do returns the payload for req or a typed error.
func (d *Dispatcher) Do(ctx context.Context, req upstream.Request) (json.RawMessage, error) {
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		if d.gate != nil {
			if err := d.gate.Admit(ctx); err != nil {
				return nil, err
			}
		}
		return d.exec.Execute(ctx, req)
	}

	if req.Cache == nil || !req.Cache.Enabled || d.cache == nil {
		d.logger.Debug("dispatching uncached request", slog.String("region", req.Region), slog.String("path", req.Path))
		return fetch(ctx)
	}
	return d.cache.Resolve(ctx, req.Region, *req.Cache, fetch)
}
