package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/polydesk/internal/scheduler"
)

// Check probes one backing dependency.
type Check func(ctx context.Context) error

// TaskLister reports the registered scheduler tasks.
type TaskLister interface {
	Tasks() []scheduler.TaskInfo
}

// HealthHandler serves the liveness endpoint with a per-dependency breakdown.
type HealthHandler struct {
	roles   []string
	ledger  string
	tasks   TaskLister
	checks  map[string]Check
	timeout time.Duration
	started time.Time
}

// NewHealthHandler creates a HealthHandler. tasks and checks may be nil.
func NewHealthHandler(roles []string, ledger string, tasks TaskLister, checks map[string]Check) *HealthHandler {
	return &HealthHandler{
		roles:   roles,
		ledger:  ledger,
		tasks:   tasks,
		checks:  checks,
		timeout: 2 * time.Second,
		started: time.Now().UTC(),
	}
}

// HealthCheck answers 200 when every check passes and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":        status,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
		"roles":         h.roles,
		"ledger":        h.ledger,
		"dependencies":  deps,
	}
	if h.tasks != nil {
		body["tasks"] = h.tasks.Tasks()
	}
	writeJSON(w, code, body)
}
