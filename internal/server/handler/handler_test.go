package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/scheduler"
	"github.com/alanyoungcy/polydesk/internal/service"
	"github.com/alanyoungcy/polydesk/internal/store/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubQueries struct {
	lastLimit int
}

func (s *stubQueries) Status(context.Context) service.StatusView {
	return service.StatusView{TradesToday: 3, PendingSignalsCount: 1, UpdatedAt: 42}
}

func (s *stubQueries) Trades(_ context.Context, limit int) service.TradesView {
	s.lastLimit = limit
	return service.TradesView{Trades: []service.TradeView{}, UpdatedAt: 42}
}

func (s *stubQueries) Positions(context.Context) service.PositionsView {
	return service.PositionsView{Positions: []service.PositionView{}, TotalPending: 0, UpdatedAt: 42}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDeskStatus(t *testing.T) {
	h := NewDeskHandler(&stubQueries{}, nil, discard())
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/desk/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 3, body["tradesToday"])
	assert.EqualValues(t, 1, body["pendingSignalsCount"])
	assert.EqualValues(t, 42, body["updatedAt"])
	assert.NotContains(t, body, "hint")
}

func TestDeskTradesPassesLimit(t *testing.T) {
	q := &stubQueries{}
	h := NewDeskHandler(q, nil, discard())

	for _, tc := range []struct {
		query string
		want  int
	}{
		{"?limit=20", 20},
		{"?limit=abc", 0},
		{"?limit=-4", 0},
		{"", 0},
	} {
		rec := httptest.NewRecorder()
		h.Trades(rec, httptest.NewRequest(http.MethodGet, "/desk/trades"+tc.query, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tc.want, q.lastLimit, tc.query)
	}
}

func TestDeskWithoutRuntime(t *testing.T) {
	h := NewDeskHandler(nil, nil, discard())
	for _, fn := range []http.HandlerFunc{h.Status, h.Trades, h.Positions, h.Report} {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/desk/x", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "No runtime", decode(t, rec)["error"])
	}
}

func TestDeskWithoutLedgerAnswersHint(t *testing.T) {
	qs := service.NewQueryService(nil, nil, 0, 0, discard())
	h := NewDeskHandler(qs, nil, discard())

	rec := httptest.NewRecorder()
	h.Positions(rec, httptest.NewRequest(http.MethodGet, "/desk/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, service.HintNoLedger, body["hint"])
	assert.Empty(t, body["positions"])
}

func TestDeskReport(t *testing.T) {
	ledger := memory.New().Ledger()
	h := NewDeskHandler(nil, service.NewReportGenerator(ledger, 0, discard()), discard())

	rec := httptest.NewRecorder()
	h.Report(rec, httptest.NewRequest(http.MethodGet, "/desk/report?hours=24&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 24, body["hours"])
	assert.Equal(t, "success", body["outcome"])
	assert.Contains(t, body["text"], "last 24h")

	rec = httptest.NewRecorder()
	h.Report(rec, httptest.NewRequest(http.MethodGet, "/desk/report?hours=99999999", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, service.MaxReportHours, decode(t, rec)["hours"])
}

type taskList []scheduler.TaskInfo

func (l taskList) Tasks() []scheduler.TaskInfo { return l }

func TestHealth(t *testing.T) {
	tasks := taskList{{Name: "POLYMARKET_RISK_15M", Interval: 15 * time.Minute}}
	ok := func(context.Context) error { return nil }

	h := NewHealthHandler([]string{"risk"}, "memory", tasks, map[string]Check{"redis": ok})
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["ledger"])
	assert.Len(t, body["tasks"], 1)

	h = NewHealthHandler(nil, "postgres", nil, map[string]Check{
		"redis":    ok,
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok", "postgres": "connection refused"}, body["dependencies"])
}

type memSwitch struct {
	on  bool
	err error
}

func (s *memSwitch) Enabled(context.Context) (bool, error) { return s.on, s.err }

func (s *memSwitch) SetEnabled(_ context.Context, on bool) error {
	if s.err != nil {
		return s.err
	}
	s.on = on
	return nil
}

func TestControlPauseResume(t *testing.T) {
	sw := &memSwitch{on: true}
	h := NewControlHandler(sw, discard())

	rec := httptest.NewRecorder()
	h.SetEnabled(rec, httptest.NewRequest(http.MethodPost, "/desk/enabled", strings.NewReader(`{"enabled":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["enabled"])
	assert.False(t, sw.on)

	rec = httptest.NewRecorder()
	h.GetEnabled(rec, httptest.NewRequest(http.MethodGet, "/desk/enabled", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["enabled"])

	rec = httptest.NewRecorder()
	h.SetEnabled(rec, httptest.NewRequest(http.MethodPost, "/desk/enabled", strings.NewReader(`{"enabled":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sw.on)
}

func TestControlRejectsBadInput(t *testing.T) {
	sw := &memSwitch{on: true}
	h := NewControlHandler(sw, discard())

	for _, body := range []string{`{}`, `not json`} {
		rec := httptest.NewRecorder()
		h.SetEnabled(rec, httptest.NewRequest(http.MethodPost, "/desk/enabled", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.True(t, sw.on)

	sw.err = errors.New("redis down")
	rec := httptest.NewRecorder()
	h.SetEnabled(rec, httptest.NewRequest(http.MethodPost, "/desk/enabled", strings.NewReader(`{"enabled":false}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	off := NewControlHandler(nil, discard())
	rec = httptest.NewRecorder()
	off.GetEnabled(rec, httptest.NewRequest(http.MethodGet, "/desk/enabled", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
