package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestLRUTierEvictsOldest(t *testing.T) {
	ctx := context.Background()
	tier := NewLRUTier(2, time.Hour)

	require.NoError(t, tier.Add(ctx, "a", []byte(`1`), time.Minute))
	require.NoError(t, tier.Add(ctx, "b", []byte(`2`), time.Minute))
	require.NoError(t, tier.Add(ctx, "c", []byte(`3`), time.Minute))

	_, ok, err := tier.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := tier.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `3`, string(got))

	require.NoError(t, tier.Remove(ctx, "c"))
	_, ok, _ = tier.Get(ctx, "c")
	require.False(t, ok)
	require.NoError(t, tier.Close(ctx))
}

func TestValkeyTierRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	tier, err := NewValkeyTier(ctx, ValkeyConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tier.Close(ctx) })

	require.NoError(t, tier.Add(ctx, "na/summoner/1", []byte(`{"id":1}`), time.Minute))
	require.True(t, mr.Exists(valkeyKeyPrefix+"na/summoner/1"))

	got, ok, err := tier.Get(ctx, "na/summoner/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":1}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, ok, err = tier.Get(ctx, "na/summoner/1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tier.Add(ctx, "na/status", []byte(`"ok"`), time.Minute))
	require.NoError(t, tier.Remove(ctx, "na/status"))
	require.False(t, mr.Exists(valkeyKeyPrefix+"na/status"))

	require.NoError(t, tier.Add(ctx, "na/ignored", []byte(`1`), 0))
	require.False(t, mr.Exists(valkeyKeyPrefix+"na/ignored"))
}

func TestValkeyTierBacksStore(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	tier, err := NewValkeyTier(ctx, ValkeyConfig{Address: mr.Addr()})
	require.NoError(t, err)

	store := newTestStore(t, nil, func(o *Options) { o.Memory = tier })
	fetcher := &countingFetcher{payload: `{"tier":"valkey"}`}
	policy := Policy{Enabled: true, Identifier: "champions", TTL: time.Minute}

	_, err = store.Resolve(ctx, "na", policy, fetcher.fetch)
	require.NoError(t, err)
	require.True(t, mr.Exists(valkeyKeyPrefix+"na/champions"))

	got, err := store.Resolve(ctx, "na", policy, fetcher.fetch)
	require.NoError(t, err)
	require.JSONEq(t, fetcher.payload, string(got))
	require.Equal(t, int32(1), fetcher.calls.Load())
}

func TestNewValkeyTierValidation(t *testing.T) {
	_, err := NewValkeyTier(context.Background(), ValkeyConfig{})
	require.Error(t, err)

	_, err = NewValkeyTier(context.Background(), ValkeyConfig{
		Address: "127.0.0.1:6379",
		TLS:     ValkeyTLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"},
	})
	require.Error(t, err)
}
