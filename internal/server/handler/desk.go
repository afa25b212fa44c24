package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polydesk/internal/service"
)

// DeskQueries is the read side of the ledger served to dashboards.
type DeskQueries interface {
	Status(ctx context.Context) service.StatusView
	Trades(ctx context.Context, limit int) service.TradesView
	Positions(ctx context.Context) service.PositionsView
}

// Reporter builds on-demand performance reports.
type Reporter interface {
	Generate(ctx context.Context, req service.ReportRequest) (service.Report, error)
}

// DeskHandler serves the /desk endpoints. Ledger outages still answer 200
// with an empty payload and a hint, so dashboards keep rendering.
type DeskHandler struct {
	queries DeskQueries
	reports Reporter
	logger  *slog.Logger
}

// NewDeskHandler creates a DeskHandler. Either dependency may be nil, in
// which case its endpoints answer 500.
func NewDeskHandler(queries DeskQueries, reports Reporter, logger *slog.Logger) *DeskHandler {
	return &DeskHandler{
		queries: queries,
		reports: reports,
		logger:  logger.With(slog.String("handler", "desk")),
	}
}

// Status serves today's totals and queue depths.
// GET /desk/status
func (h *DeskHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeError(w, http.StatusInternalServerError, "No runtime")
		return
	}
	writeJSON(w, http.StatusOK, h.queries.Status(r.Context()))
}

// Trades serves recent fills.
// GET /desk/trades?limit=N
func (h *DeskHandler) Trades(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeError(w, http.StatusInternalServerError, "No runtime")
		return
	}
	writeJSON(w, http.StatusOK, h.queries.Trades(r.Context(), queryInt(r, "limit")))
}

// Positions serves pending sized orders marked to market.
// GET /desk/positions
func (h *DeskHandler) Positions(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeError(w, http.StatusInternalServerError, "No runtime")
		return
	}
	writeJSON(w, http.StatusOK, h.queries.Positions(r.Context()))
}

// Report builds a report over the requested window.
// GET /desk/report?hours=H&limit=N
func (h *DeskHandler) Report(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusInternalServerError, "No runtime")
		return
	}
	rep, err := h.reports.Generate(r.Context(), service.ReportRequest{
		Hours: queryInt(r, "hours"),
		Limit: queryInt(r, "limit"),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: report failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "report failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
