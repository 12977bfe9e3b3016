package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryTier is the fast tier in front of the payload files. Implementations must be
// safe for concurrent use. A miss is not an error.
type MemoryTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Add(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

type lruTier struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUTier returns an in-process tier bounded to maxEntries (0 means unbounded).
// Entries also age out after maxAge; the table remains the authority on expiry.
func NewLRUTier(maxEntries int, maxAge time.Duration) MemoryTier {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &lruTier{lru: expirable.NewLRU[string, []byte](maxEntries, nil, maxAge)}
}

func (t *lruTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	payload, ok := t.lru.Get(key)
	return payload, ok, nil
}

func (t *lruTier) Add(_ context.Context, key string, payload []byte, _ time.Duration) error {
	t.lru.Add(key, payload)
	return nil
}

func (t *lruTier) Remove(_ context.Context, key string) error {
	t.lru.Remove(key)
	return nil
}

func (t *lruTier) Close(context.Context) error {
	t.lru.Purge()
	return nil
}
