package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/l0p7/iowa/internal/metrics"
)

// Limit is one "Requests per Window" contract.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Options configures a Gate.
type Options struct {
	Limits  []Limit
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Gate admits a request once it holds a token from every bucket. Buckets are
// acquired concurrently; release order among waiting requests is not FIFO.
type Gate struct {
	buckets []*Bucket
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder
	pending atomic.Int64
}

// New builds one bucket per limit. At least one limit is required.
func New(opts Options) (*Gate, error) {
	if len(opts.Limits) == 0 {
		return nil, errors.New("ratelimit: at least one limit required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		clock:   clock,
		logger:  logger.With(slog.String("agent", "rate_gate")),
		metrics: opts.Metrics,
	}
	for i, limit := range opts.Limits {
		if limit.Requests <= 0 || limit.Window <= 0 {
			return nil, fmt.Errorf("ratelimit: limit %d must have positive requests and window", i)
		}
		g.buckets = append(g.buckets, NewBucket(limit.Requests, limit.Window, clock))
	}
	return g, nil
}

// Admit blocks until the caller may dispatch one request. On cancellation the
// tokens already taken are refunded and ctx's error is returned.
func (g *Gate) Admit(ctx context.Context) error {
	g.pending.Add(1)
	g.metrics.GateEntered()
	start := g.clock.Now()
	defer func() {
		g.pending.Add(-1)
		g.metrics.GateLeft(g.clock.Since(start))
	}()

	acquired := make([]atomic.Bool, len(g.buckets))
	windows := make([]time.Time, len(g.buckets))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, bucket := range g.buckets {
		group.Go(func() error {
			window, err := bucket.acquire(groupCtx)
			if err != nil {
				return err
			}
			windows[i] = window
			acquired[i].Store(true)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		for i, bucket := range g.buckets {
			if acquired[i].Load() {
				bucket.refund(windows[i])
			}
		}
		return fmt.Errorf("ratelimit: admit: %w", err)
	}

	if wait := g.clock.Since(start); wait > 0 {
		g.logger.Debug("request admitted after wait", slog.Duration("wait", wait))
	}
	return nil
}

// Pending reports how many requests are waiting in the gate.
func (g *Gate) Pending() int {
	return int(g.pending.Load())
}
