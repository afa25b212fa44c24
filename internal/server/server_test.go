package server

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/server/handler"
	"github.com/alanyoungcy/polydesk/internal/service"
	"github.com/alanyoungcy/polydesk/internal/store/memory"
)

type memSwitch struct{ on bool }

func (s *memSwitch) Enabled(context.Context) (bool, error) { return s.on, nil }

func (s *memSwitch) SetEnabled(_ context.Context, on bool) error {
	s.on = on
	return nil
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *domain.Ledger) {
	t.Helper()
	srv, ledger, _ := newControlServer(t, cfg)
	return srv, ledger
}

func newControlServer(t *testing.T, cfg Config) (*httptest.Server, *domain.Ledger, *memSwitch) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := memory.New().Ledger()
	sw := &memSwitch{on: true}

	h := Handlers{
		Health: handler.NewHealthHandler([]string{"analyst"}, "memory", nil, nil),
		Desk: handler.NewDeskHandler(
			service.NewQueryService(ledger, nil, time.Second, time.Second, logger),
			service.NewReportGenerator(ledger, time.Second, logger),
			logger,
		),
		Control: handler.NewControlHandler(sw, logger),
	}
	srv := httptest.NewServer(Routes(cfg, h, nil, nil, logger))
	t.Cleanup(srv.Close)
	return srv, ledger, sw
}

func get(t *testing.T, url string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutesServeDeskEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	for _, path := range []string{"/desk/status", "/desk/trades?limit=5", "/desk/positions", "/desk/report", "/api/health"} {
		resp := get(t, srv.URL+path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, resp.Header.Get("Content-Type"), "application/json", path)
	}

	resp := get(t, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/desk/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutesStatusShape(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	resp := get(t, srv.URL+"/desk/status", nil)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	for _, key := range []string{"tradesToday", "volumeTodayUsd", "executionPnlTodayUsd", "pendingSignalsCount", "pendingSizedOrdersCount", "updatedAt"} {
		assert.Contains(t, body, key)
	}
}

func TestRoutesRequireAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "k"})

	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/desk/status", nil).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/desk/status", map[string]string{"X-API-Key": "k"}).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/health", nil).StatusCode)
}

func TestRoutesRejectWrites(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	resp, err := http.Post(srv.URL+"/desk/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func post(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutesDeskControl(t *testing.T) {
	srv, _, sw := newControlServer(t, Config{APIKey: "k"})
	key := map[string]string{"X-API-Key": "k"}

	assert.Equal(t, http.StatusUnauthorized, post(t, srv.URL+"/desk/enabled", `{"enabled":false}`, nil).StatusCode)
	assert.True(t, sw.on)

	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/desk/enabled", `{"enabled":false}`, key).StatusCode)
	assert.False(t, sw.on)

	resp := get(t, srv.URL+"/desk/enabled", key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body["enabled"])
}

func TestRoutesDeskControlNeedsAPIKey(t *testing.T) {
	srv, _, sw := newControlServer(t, Config{})
	assert.Equal(t, http.StatusNotFound, post(t, srv.URL+"/desk/enabled", `{"enabled":false}`, nil).StatusCode)
	assert.True(t, sw.on)
}
