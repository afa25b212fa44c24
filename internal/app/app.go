// Package app wires the desk together: ledger, market data, the role
// schedule and the query API, all run under one errgroup until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polydesk/internal/config"
	"github.com/alanyoungcy/polydesk/internal/scheduler"
	"github.com/alanyoungcy/polydesk/internal/server"
	"github.com/alanyoungcy/polydesk/internal/server/handler"
	"github.com/alanyoungcy/polydesk/internal/server/ws"
	"github.com/alanyoungcy/polydesk/internal/service"
)

// TaskPaperFill drives the paper executor when the process runs with
// paper fills enabled.
const TaskPaperFill = "POLYMARKET_PAPER_FILL"

const (
	paperFillInterval = time.Minute
	shutdownTimeout   = 10 * time.Second
)

// Options are process-level switches that are not part of the config file.
type Options struct {
	// PaperFill fills pending sized orders at the live quote instead of
	// waiting for the external executor.
	PaperFill bool
}

// App is the root application object. It owns the configuration, the logger
// and the cleanup functions run in reverse order on Close.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, registers the role tasks and serves until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	roles, err := ParseRoles(a.cfg.Desk.Roles)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "starting desk",
		slog.Any("roles", roles),
		slog.String("ledger", a.cfg.Ledger),
		slog.Bool("paper_fill", a.opts.PaperFill),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	sched, desk, err := a.buildDesk(deps, roles)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTP(ctx, g, deps, desk, sched, roles)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildDesk constructs the pipeline services and registers their tasks.
func (a *App) buildDesk(deps *Dependencies, roles []Role) (*scheduler.Scheduler, Desk, error) {
	dc := a.cfg.Desk
	ledgerTimeout := dc.LedgerTimeout.Duration
	quoteTimeout := dc.QuoteTimeout.Duration

	params := service.NewParamsResolver(a.cfg.RiskParams(), deps.Ledger.Risk, deps.Switch, ledgerTimeout, a.logger)
	events := service.NewEventPublisher(deps.Bus, deps.Notifier, a.logger)

	desk := Desk{
		Edge: service.NewEdgeDetector(deps.Forecaster, deps.Quotes, deps.Ledger.Signals, params, events,
			service.EdgeDetectorConfig{QuoteTimeout: quoteTimeout, LedgerTimeout: ledgerTimeout}, a.logger),
		Risk:     service.NewRiskSizer(deps.Ledger.Signals, params, events, ledgerTimeout, a.logger),
		Reports:  service.NewReportGenerator(deps.Ledger, ledgerTimeout, a.logger),
		Params:   params,
		Events:   events,
		Archiver: deps.Archiver,
	}

	sched := scheduler.New(deps.Locks, scheduler.Config{
		RunTimeout: dc.TaskTimeout.Duration,
		RunOnStart: dc.RunOnStart,
	}, a.logger)

	rs := RoleSchedule{
		Roles:           roles,
		AnalystInterval: dc.AnalystInterval.Duration,
		RiskInterval:    dc.RiskInterval.Duration,
		PerfInterval:    dc.PerfInterval.Duration,
		Asset:           dc.DefaultAsset,
		Wallet:          dc.WalletAddress,
		ReportHours:     dc.ReportHours,
		ExportCron:      dc.ExportCron,
	}
	if err := RegisterRoles(sched, desk, rs, a.logger); err != nil {
		return nil, Desk{}, fmt.Errorf("app: register roles: %w", err)
	}

	if a.opts.PaperFill {
		paper := service.NewPaperExecutor(deps.Ledger.Orders, deps.Quotes, events, ledgerTimeout, quoteTimeout, a.logger)
		if err := sched.RegisterRecurring(TaskPaperFill, paperFillInterval, paper.FillOpen, params.Enabled); err != nil {
			return nil, Desk{}, fmt.Errorf("app: register paper fill: %w", err)
		}
	}
	return sched, desk, nil
}

// startHTTP adds the API server and the event hub to g, and shuts the
// server down when ctx is cancelled.
func (a *App) startHTTP(ctx context.Context, g *errgroup.Group, deps *Dependencies, desk Desk, sched *scheduler.Scheduler, roles []Role) {
	sc := a.cfg.Server
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Roles:          names,
		AllowedOrigins: sc.CORSOrigins,
		Replay:         ws.DefaultReplay,
	})
	queries := service.NewQueryService(deps.Ledger, deps.Quotes, a.cfg.Desk.LedgerTimeout.Duration, a.cfg.Desk.QuoteTimeout.Duration, a.logger)

	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		RateLimit:   sc.RateLimit,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(names, a.cfg.Ledger, sched, deps.Checks),
		Desk:    handler.NewDeskHandler(queries, desk.Reports, a.logger),
		Control: handler.NewControlHandler(deps.Switch, a.logger),
	}, hub, deps.Limiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Close tears down resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down desk")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
