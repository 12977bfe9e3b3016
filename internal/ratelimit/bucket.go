package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Bucket grants up to capacity tokens per window. The window opens with the first
// token taken after the previous window closed, and the bucket refills to capacity
// when it ends, so no span of one window ever sees more than capacity grants.
type Bucket struct {
	capacity int
	interval time.Duration
	clock    clockwork.Clock

	mu          sync.Mutex
	tokens      int
	windowStart time.Time
	open        bool
}

// NewBucket returns a full bucket.
func NewBucket(capacity int, interval time.Duration, clock clockwork.Clock) *Bucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bucket{capacity: capacity, interval: interval, clock: clock, tokens: capacity}
}

// Acquire blocks until a token is taken or ctx is done.
func (b *Bucket) Acquire(ctx context.Context) error {
	_, err := b.acquire(ctx)
	return err
}

// acquire is Acquire that also reports the window the token was taken from.
func (b *Bucket) acquire(ctx context.Context) (time.Time, error) {
	for {
		window, wait, ok := b.take()
		if ok {
			return window, nil
		}
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-b.clock.After(wait):
		}
	}
}

// Available reports the tokens left in the current window.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.clock.Now())
	return b.tokens
}

func (b *Bucket) take() (time.Time, time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	b.refill(now)
	if b.tokens > 0 {
		if !b.open {
			b.windowStart = now
			b.open = true
		}
		b.tokens--
		return b.windowStart, 0, true
	}
	return time.Time{}, b.windowStart.Add(b.interval).Sub(now), false
}

// refund returns a token taken by a request that was never admitted. Tokens from
// a window that has since closed are dropped.
func (b *Bucket) refund(window time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.clock.Now())
	if b.open && b.windowStart.Equal(window) && b.tokens < b.capacity {
		b.tokens++
	}
}

func (b *Bucket) refill(now time.Time) {
	if b.open && now.Sub(b.windowStart) >= b.interval {
		b.tokens = b.capacity
		b.open = false
	}
}
