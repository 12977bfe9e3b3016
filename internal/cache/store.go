package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/l0p7/iowa/internal/metrics"
)

// Fetcher obtains a fresh payload on a cache miss.
type Fetcher func(ctx context.Context) (json.RawMessage, error)

// Options configures a Store.
type Options struct {
	Directory     string
	SaveFailures  bool
	SecretParams  []string
	SweepInterval time.Duration
	Memory        MemoryTier
	Clock         clockwork.Clock
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	DecodeFailure FailureDecoder
}

// Store owns the cache table, the memory tier and the payload files. It is safe for
// concurrent use.
type Store struct {
	dir           string
	saveFailures  bool
	secrets       []string
	sweepInterval time.Duration
	memory        MemoryTier
	clock         clockwork.Clock
	logger        *slog.Logger
	metrics       *metrics.Recorder
	decodeFailure FailureDecoder

	mu    sync.Mutex
	table map[string]*Entry

	group     singleflight.Group
	writes    sync.WaitGroup
	flushCh   chan struct{}
	stop      chan struct{}
	flushDone chan struct{}
	closeOnce sync.Once
}

// New loads or initializes the table in opts.Directory, runs an initial sweep and
// starts the background table writer. Close must be called to release it.
func New(ctx context.Context, opts Options) (*Store, error) {
	dir := strings.TrimSpace(opts.Directory)
	if dir == "" {
		return nil, errors.New("cache: directory required")
	}
	s := &Store{
		dir:           dir,
		saveFailures:  opts.SaveFailures,
		secrets:       opts.SecretParams,
		sweepInterval: opts.SweepInterval,
		memory:        opts.Memory,
		clock:         opts.Clock,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		decodeFailure: opts.DecodeFailure,
		flushCh:       make(chan struct{}, 1),
		stop:          make(chan struct{}),
		flushDone:     make(chan struct{}),
	}
	if s.memory == nil {
		s.memory = NewLRUTier(0, 0)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("agent", "cache_store"))
	if s.decodeFailure == nil {
		s.decodeFailure = decodeFailureText
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = 10 * time.Minute
	}

	if err := s.loadTable(); err != nil {
		return nil, err
	}
	go s.flushLoop()
	if removed := s.Sweep(ctx); removed > 0 {
		s.logger.Info("initial cache cleanup", slog.Int("removed", removed))
	}
	s.metrics.SetCacheEntries(s.Len())
	return s, nil
}

// Resolve returns the cached result for policy, or calls fetch on a miss and saves
// what it returns. Cached failures come back as errors built by the decoder.
func (s *Store) Resolve(ctx context.Context, region string, policy Policy, fetch Fetcher) (json.RawMessage, error) {
	d := s.describe(region, policy)

	if key, ok := s.lookup(d); ok {
		payload, failed, err := s.read(ctx, key)
		if err == nil {
			s.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheLookupHit)
			if failed {
				return nil, s.decodeFailure(payload)
			}
			return payload, nil
		}
		s.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheLookupCorrupt)
		s.logger.Warn("cache entry has no readable payload, refetching",
			slog.String("key", key),
			slog.Any("error", errors.Join(ErrCacheCorrupt, err)),
		)
		s.drop(ctx, key)
	} else {
		s.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheLookupMiss)
	}

	if !d.deterministic() {
		return s.fetchAndSave(ctx, d, fetch)
	}
	// The shared fetch outlives any one caller; each waiter gives up on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(d.key(), func() (any, error) {
		return s.fetchAndSave(shared, d, fetch)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		payload, _ := res.Val.(json.RawMessage)
		return payload, res.Err
	}
}

// Save persists a fetch result under the key rules and returns the key used. Errors
// are stored only when failures are persisted and the error is a Failure.
func (s *Store) Save(ctx context.Context, region string, policy Policy, payload json.RawMessage, fetchErr error) (string, error) {
	return s.save(ctx, s.describe(region, policy), payload, fetchErr)
}

func (s *Store) fetchAndSave(ctx context.Context, d descriptor, fetch Fetcher) (json.RawMessage, error) {
	payload, err := fetch(ctx)
	if _, saveErr := s.save(ctx, d, payload, err); saveErr != nil {
		s.logger.Warn("cache save failed", slog.String("identifier", d.identifier), slog.Any("error", saveErr))
	}
	return payload, err
}

func (s *Store) save(ctx context.Context, d descriptor, payload json.RawMessage, fetchErr error) (string, error) {
	failed := false
	if fetchErr != nil {
		var failure Failure
		if !s.saveFailures || !errors.As(fetchErr, &failure) {
			s.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheStoreSkipped)
			return "", nil
		}
		raw, err := failure.MarshalJSON()
		if err != nil {
			s.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheStoreError)
			return "", fmt.Errorf("cache: encode failure: %w", err)
		}
		payload = raw
		failed = true
	}
	if payload == nil {
		payload = json.RawMessage("null")
	}

	now := s.clock.Now()
	row := &Entry{
		Namespace:   d.namespace,
		Identifier:  d.rowIdentifier(),
		ExpiresAt:   now.Add(d.ttl),
		ExtraParams: d.extraParams,
		Failed:      failed,
		paramsKey:   d.paramsKey,
	}
	if d.multi() {
		row.DynamicIDs = d.dynamicIDs
	}

	s.mu.Lock()
	key := d.key()
	if !d.deterministic() {
		key = d.candidateKey()
		for s.table[key] != nil {
			key = d.candidateKey()
		}
	}
	if _, err := s.payloadPath(key); err != nil {
		s.mu.Unlock()
		s.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheStoreError)
		return "", err
	}
	s.table[key] = row
	size := len(s.table)
	s.mu.Unlock()

	if err := s.memory.Add(ctx, key, payload, d.ttl); err != nil {
		s.logger.Warn("memory tier write failed", slog.String("key", key), slog.Any("error", err))
	}
	s.requestFlush()
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		if err := s.writePayload(key, payload); err != nil {
			s.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheStoreError)
			s.logger.Error("cache payload write failed", slog.String("key", key), slog.Any("error", err))
		}
	}()

	s.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheStoreStored)
	s.metrics.SetCacheEntries(size)
	s.logger.Debug("cache entry stored", slog.String("key", key), slog.Time("expires_at", row.ExpiresAt))
	return key, nil
}

// lookup finds the live row for d. Deterministic descriptors use their fixed key;
// others scan the table and pick the match expiring last.
func (s *Store) lookup(d descriptor) (string, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.deterministic() {
		key := d.key()
		row := s.table[key]
		if row == nil || !row.ExpiresAt.After(now) {
			return "", false
		}
		return key, true
	}

	var (
		found  string
		latest time.Time
	)
	for key, row := range s.table {
		if !row.ExpiresAt.After(now) || !d.matches(row) {
			continue
		}
		if found == "" || row.ExpiresAt.After(latest) {
			found, latest = key, row.ExpiresAt
		}
	}
	return found, found != ""
}

// read returns the payload for key from memory, falling back to disk and warming
// memory on success.
func (s *Store) read(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	row := s.table[key]
	s.mu.Unlock()
	if row == nil {
		return nil, false, fmt.Errorf("cache: %s vanished", key)
	}

	payload, ok, err := s.memory.Get(ctx, key)
	if err != nil {
		s.logger.Warn("memory tier read failed", slog.String("key", key), slog.Any("error", err))
	}
	if ok {
		return payload, row.Failed, nil
	}

	payload, err = s.readPayload(key)
	if err != nil {
		return nil, false, err
	}
	if err := s.memory.Add(ctx, key, payload, row.ExpiresAt.Sub(s.clock.Now())); err != nil {
		s.logger.Warn("memory tier write failed", slog.String("key", key), slog.Any("error", err))
	}
	return payload, row.Failed, nil
}

// drop removes a row with every copy of its payload.
func (s *Store) drop(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.table, key)
	s.mu.Unlock()
	s.evict(ctx, key)
}

// evict removes the memory and disk copies of a payload whose row is gone.
func (s *Store) evict(ctx context.Context, key string) {
	if err := s.memory.Remove(ctx, key); err != nil {
		s.logger.Warn("memory tier delete failed", slog.String("key", key), slog.Any("error", err))
	}
	if err := s.removePayload(key); err != nil {
		s.logger.Warn("cache payload delete failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Sweep removes every expired entry from the table, the memory tier and disk, and
// returns how many were removed.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.clock.Now()
	s.mu.Lock()
	var expired []string
	for key, row := range s.table {
		if !row.ExpiresAt.After(now) {
			expired = append(expired, key)
			delete(s.table, key)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, key := range expired {
		if s.evictUnlessResaved(ctx, key) {
			removed++
			s.metrics.ObserveCache(metrics.CacheOperationSweep, metrics.CacheSweepRemoved)
			s.logger.Debug("expired cache entry removed", slog.String("key", key))
		}
	}
	if len(expired) > 0 {
		s.requestFlush()
		s.metrics.SetCacheEntries(s.Len())
		s.logger.Info("cache cleaned up", slog.Int("removed", removed))
	}
	return removed
}

// evictUnlessResaved removes the copies of a swept key unless a save recreated its
// row in the meantime. The lock is held so no save can slip in between.
func (s *Store) evictUnlessResaved(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table[key] != nil {
		return false
	}
	s.evict(ctx, key)
	return true
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Len reports the number of table rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table)
}

// Close waits for pending payload writes, flushes the table one last time and
// closes the memory tier.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		written := make(chan struct{})
		go func() {
			s.writes.Wait()
			close(written)
		}()
		select {
		case <-written:
		case <-ctx.Done():
			err = fmt.Errorf("cache: waiting for payload writes: %w", ctx.Err())
		}
		close(s.stop)
		<-s.flushDone
		if closeErr := s.memory.Close(ctx); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	})
	return err
}
