package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestLockManager_ExclusiveUntilReleased(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "resolve:m1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "resolve:m1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "resolve:m1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_StaleUnlockKeepsNewLease(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "automation:create", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = lm.Acquire(ctx, "automation:create", time.Minute)
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("lock:automation:create"))
}

func TestSignalBus_StreamRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBusWithMaxLen(c, 100)
	ctx := context.Background()

	empty, err := bus.StreamRead(ctx, domain.LifecycleStream, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, bus.StreamAppend(ctx, domain.LifecycleStream, []byte(`{"type":"market_created"}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.LifecycleStream, []byte(`{"type":"market_resolved"}`)))

	msgs, err := bus.StreamRead(ctx, domain.LifecycleStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"type":"market_created"}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, domain.LifecycleStream, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.JSONEq(t, `{"type":"market_resolved"}`, string(rest[0].Payload))
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, domain.LifecycleChannel)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.LifecycleChannel, []byte("hello")))

	select {
	case got := <-sub:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	cancel()
	for range sub {
	}
}

func TestMetricCache(t *testing.T) {
	c, mr := newTestClient(t)
	mc := NewMetricCache(c)
	ctx := context.Background()

	_, err := mc.Get(ctx, "MINT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mc.Set(ctx, domain.TokenMetrics{Address: "MINT", MarketCap: 1.5e6, Holders: 900, FetchedAt: at}, 30*time.Second))

	got, err := mc.Get(ctx, "MINT")
	require.NoError(t, err)
	assert.Equal(t, 1.5e6, got.MarketCap)
	assert.Equal(t, int64(900), got.Holders)
	assert.True(t, at.Equal(got.FetchedAt))

	mr.FastForward(31 * time.Second)
	_, err = mc.Get(ctx, "MINT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		ok, err := rl.Allow(ctx, "ip:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "ip:1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = rl.Allow(ctx, "ip:1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
