package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/marketengine/internal/cache/memory"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	memstore "github.com/alanyoungcy/marketengine/internal/store/memory"
)

type busyRunner struct{}

func (busyRunner) RunOnce(context.Context) (domain.AutomatedMarketLog, error) {
	return domain.AutomatedMarketLog{}, domain.ErrLockHeld
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	h := NewHandler(Config{
		APIKey:     "ops",
		RateLimit:  100,
		RateWindow: time.Minute,
	}, Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Markets:    handler.NewMarketHandler(store, store.Payouts(), logger),
		Automation: handler.NewAutomationHandler(busyRunner{}, store, logger),
	}, nil, memcache.NewRateLimiter(), logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method string
		path   string
		key    string
		want   int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/automation/logs", "", http.StatusOK},
		{http.MethodPost, "/api/automation/run", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/automation/run", "ops", http.StatusConflict},
		{http.MethodGet, "/api/markets", "", http.StatusOK},
		{http.MethodGet, "/api/markets/missing", "", http.StatusNotFound},
		{http.MethodGet, "/api/markets/missing/verify", "", http.StatusNotFound},
		{http.MethodGet, "/api/markets/missing/payouts", "", http.StatusOK},
		{http.MethodGet, "/api/payouts/failed", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/unknown", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, tt.key)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}
