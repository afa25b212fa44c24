package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// ControlHandler serves GET/POST /desk/enabled, the operator pause and
// resume control over the kill switch. When the switch is nil (no Redis)
// requests return 501.
type ControlHandler struct {
	sw     domain.Switch
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler. sw may be nil.
func NewControlHandler(sw domain.Switch, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		sw:     sw,
		logger: logger.With(slog.String("handler", "control")),
	}
}

// SetEnabledRequest is the JSON body for POST /desk/enabled.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// GetEnabled reports whether the pipeline is running.
// GET /desk/enabled
func (h *ControlHandler) GetEnabled(w http.ResponseWriter, r *http.Request) {
	if h.sw == nil {
		writeError(w, http.StatusNotImplemented, "kill switch not available (redis disabled)")
		return
	}
	on, err := h.sw.Enabled(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: read kill switch failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "kill switch unreadable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": on})
}

// SetEnabled pauses or resumes the pipeline.
// POST /desk/enabled
func (h *ControlHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	if h.sw == nil {
		writeError(w, http.StatusNotImplemented, "kill switch not available (redis disabled)")
		return
	}
	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.sw.SetEnabled(r.Context(), *req.Enabled); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: write kill switch failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "kill switch write failed")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: kill switch set", slog.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}
