package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/marketengine/internal/cache/memory"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingAlerter struct {
	mu  sync.Mutex
	got []domain.LifecycleEvent
	err error
}

func (r *recordingAlerter) Lifecycle(_ context.Context, ev domain.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return r.err
}

func TestPublish_ChannelStreamAndAlert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memcache.NewSignalBus(0)
	sub, err := bus.Subscribe(ctx, domain.LifecycleChannel)
	require.NoError(t, err)

	alerts := &recordingAlerter{}
	p := NewPublisher(bus, alerts, discard())
	p.Publish(ctx, domain.LifecycleEvent{
		Type:       domain.EventMarketResolved,
		MarketID:   "m1",
		MarketType: domain.MarketTypeBattleRace,
		Outcome:    domain.OutcomeYes,
	})

	select {
	case raw := <-sub:
		var ev domain.LifecycleEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		assert.Equal(t, domain.EventMarketResolved, ev.Type)
		assert.Equal(t, "m1", ev.MarketID)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event on channel")
	}

	msgs, err := bus.StreamRead(ctx, domain.LifecycleStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, p.Close())
	require.Len(t, alerts.got, 1)
	assert.Equal(t, domain.OutcomeYes, alerts.got[0].Outcome)
}

func TestPublish_AlertFailureIsSwallowed(t *testing.T) {
	p := NewPublisher(memcache.NewSignalBus(0), &recordingAlerter{err: errors.New("boom")}, discard())
	p.Publish(context.Background(), domain.LifecycleEvent{Type: domain.EventMarketCreated, MarketID: "m1"})
	assert.NoError(t, p.Close())
}

func TestPublish_NilAlerter(t *testing.T) {
	bus := memcache.NewSignalBus(0)
	p := NewPublisher(bus, nil, discard())
	p.Publish(context.Background(), domain.LifecycleEvent{Type: domain.EventMarketCreated, MarketID: "m1"})

	msgs, err := bus.StreamRead(context.Background(), domain.LifecycleStream, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
