package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/iowa/internal/logging"
	"github.com/l0p7/iowa/internal/metrics"
)

func newTestGate(t *testing.T, clock clockwork.Clock, limits ...Limit) *Gate {
	t.Helper()
	gate, err := New(Options{Limits: limits, Clock: clock, Logger: logging.Discard(), Metrics: metrics.NewRecorder(nil)})
	require.NoError(t, err)
	return gate
}

func TestGateHonoursEveryBucket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClock()
	gate := newTestGate(t, clock,
		Limit{Requests: 2, Window: time.Second},
		Limit{Requests: 5, Window: time.Minute},
	)

	admitted := make(chan struct{}, 3)
	for range 3 {
		go func() {
			if err := gate.Admit(ctx); err == nil {
				admitted <- struct{}{}
			}
		}()
	}

	for range 2 {
		select {
		case <-admitted:
		case <-ctx.Done():
			t.Fatal("timed out waiting for the first two admissions")
		}
	}
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	select {
	case <-admitted:
		t.Fatal("third request admitted inside the first second")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, gate.Pending())

	clock.Advance(time.Second)
	select {
	case <-admitted:
	case <-ctx.Done():
		t.Fatal("third request never admitted after refill")
	}
	require.Equal(t, 2, gate.buckets[1].Available())
}

func TestGateSlowBucketHoldsRequests(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClock()
	gate := newTestGate(t, clock,
		Limit{Requests: 5, Window: time.Second},
		Limit{Requests: 1, Window: 2 * time.Minute},
	)

	require.NoError(t, gate.Admit(ctx))

	done := make(chan error, 1)
	go func() { done <- gate.Admit(ctx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)
	select {
	case <-done:
		t.Fatal("admitted before the long window elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	require.NoError(t, <-done)
}

func TestGateCancellationRefundsTokens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	gate := newTestGate(t, clock,
		Limit{Requests: 1, Window: time.Second},
		Limit{Requests: 2, Window: time.Minute},
	)
	require.NoError(t, gate.Admit(context.Background()))
	require.Equal(t, 1, gate.buckets[1].Available())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gate.Admit(ctx) }()
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, gate.buckets[1].Available())
	require.Equal(t, 0, gate.Pending())
}

func TestBucketWindowOpensOnFirstTake(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bucket := NewBucket(2, time.Second, clock)

	clock.Advance(10 * time.Second)
	_, _, ok := bucket.take()
	require.True(t, ok)
	clock.Advance(900 * time.Millisecond)
	_, _, ok = bucket.take()
	require.True(t, ok)

	_, wait, ok := bucket.take()
	require.False(t, ok)
	require.Equal(t, 100*time.Millisecond, wait)

	clock.Advance(wait)
	require.Equal(t, 2, bucket.Available())
}

func TestRefundIgnoresClosedWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bucket := NewBucket(2, time.Second, clock)

	stale, _, ok := bucket.take()
	require.True(t, ok)

	clock.Advance(time.Second)
	current, _, ok := bucket.take()
	require.True(t, ok)
	require.True(t, current.After(stale))
	_, _, ok = bucket.take()
	require.True(t, ok)

	bucket.refund(stale)
	require.Equal(t, 0, bucket.Available())
	_, _, ok = bucket.take()
	require.False(t, ok)

	bucket.refund(current)
	require.Equal(t, 1, bucket.Available())
}

func TestNewValidatesLimits(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Limits: []Limit{{Requests: 0, Window: time.Second}}})
	require.Error(t, err)

	_, err = New(Options{Limits: []Limit{{Requests: 1, Window: 0}}})
	require.Error(t, err)
}
