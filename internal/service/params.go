package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// ParamsResolver produces the RiskParams for one tick: the startup defaults,
// overlaid with the operator rows in risk_config, gated by the kill switch.
// Nothing is cached between calls.
type ParamsResolver struct {
	base    domain.RiskParams
	store   domain.RiskConfigStore
	sw      domain.Switch
	timeout time.Duration
	logger  *slog.Logger
}

// NewParamsResolver creates a ParamsResolver. store and sw may be nil.
func NewParamsResolver(base domain.RiskParams, store domain.RiskConfigStore, sw domain.Switch, timeout time.Duration, logger *slog.Logger) *ParamsResolver {
	return &ParamsResolver{
		base:    base,
		store:   store,
		sw:      sw,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "risk_params")),
	}
}

// Base returns the startup defaults.
func (r *ParamsResolver) Base() domain.RiskParams {
	if r == nil {
		return domain.DefaultRiskParams()
	}
	return r.base
}

// Resolve reads the current operator parameters. Read failures are logged
// and fall back to the defaults so that a flaky config read never blocks a
// tick.
func (r *ParamsResolver) Resolve(ctx context.Context) domain.RiskParams {
	if r == nil {
		return domain.DefaultRiskParams()
	}
	params := r.base

	if r.store != nil {
		qctx, cancel := withTimeout(ctx, r.timeout)
		kv, err := r.store.GetAll(qctx)
		cancel()
		if err != nil {
			r.logger.WarnContext(ctx, "risk_params: read risk_config failed, using defaults",
				slog.String("error", err.Error()),
			)
		} else {
			params = params.Overlay(kv)
		}
	}

	if r.sw != nil {
		qctx, cancel := withTimeout(ctx, r.timeout)
		on, err := r.sw.Enabled(qctx)
		cancel()
		if err != nil {
			r.logger.WarnContext(ctx, "risk_params: read kill switch failed",
				slog.String("error", err.Error()),
			)
		} else if !on {
			params.Enabled = false
		}
	}

	if params.EdgeThresholdBps < 0 {
		params.EdgeThresholdBps = 0
	}
	return params
}

// Enabled is the enabledCheck handed to the scheduler.
func (r *ParamsResolver) Enabled(ctx context.Context) bool {
	return r.Resolve(ctx).Enabled
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
