package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/marketengine/internal/cache/memory"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

func startHub(t *testing.T) (*memcache.SignalBus, *websocket.Conn) {
	t.Helper()
	bus := memcache.NewSignalBus(100)
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "full"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	status := read(t, conn)
	require.Equal(t, "engine_status", status["type"])
	return bus, conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func event(t *testing.T, typ domain.EventType, id string) []byte {
	t.Helper()
	data, err := json.Marshal(domain.LifecycleEvent{Type: typ, MarketID: id, At: time.Now()})
	require.NoError(t, err)
	return data
}

func TestHub_BroadcastsLifecycleEvents(t *testing.T) {
	bus, conn := startHub(t)

	require.NoError(t, bus.Publish(context.Background(), domain.LifecycleChannel, event(t, domain.EventMarketCreated, "m1")))

	got := read(t, conn)
	assert.Equal(t, "market_created", got["type"])
	assert.Equal(t, "m1", got["market_id"])
}

func TestHub_FiltersByType(t *testing.T) {
	bus, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "types": []string{"market_resolved"}}))
	ack := read(t, conn)
	require.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, []any{"market_resolved"}, ack["types"])

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.LifecycleChannel, event(t, domain.EventMarketCreated, "m1")))
	require.NoError(t, bus.Publish(ctx, domain.LifecycleChannel, event(t, domain.EventMarketResolved, "m2")))

	got := read(t, conn)
	assert.Equal(t, "market_resolved", got["type"])
	assert.Equal(t, "m2", got["market_id"])
}

func TestHub_ReplayFromStream(t *testing.T) {
	bus, conn := startHub(t)
	ctx := context.Background()
	require.NoError(t, bus.StreamAppend(ctx, domain.LifecycleStream, event(t, domain.EventMarketCreated, "m1")))
	require.NoError(t, bus.StreamAppend(ctx, domain.LifecycleStream, event(t, domain.EventMarketResolved, "m1")))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "replay", "since": "0"}))

	assert.Equal(t, "market_created", read(t, conn)["type"])
	assert.Equal(t, "market_resolved", read(t, conn)["type"])
	done := read(t, conn)
	assert.Equal(t, "replay_done", done["type"])
	assert.Equal(t, "2", done["last_id"])
	assert.Equal(t, float64(2), done["count"])
}
