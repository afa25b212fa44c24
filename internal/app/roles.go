package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/scheduler"
	"github.com/alanyoungcy/polydesk/internal/service"
)

// Role is an operator role a desk process can carry.
type Role string

const (
	RoleAnalyst     Role = "analyst"
	RoleRisk        Role = "risk"
	RolePerformance Role = "performance"
)

// Recurring task names. They double as the scheduler lock keys, so every
// process running a role shares one name.
const (
	TaskAnalystHourly = "POLYMARKET_ANALYST_HOURLY"
	TaskRisk15m       = "POLYMARKET_RISK_15M"
	TaskPerf4h        = "POLYMARKET_PERF_4H"
	TaskTradeExport   = "POLYMARKET_TRADE_EXPORT_DAILY"
)

// ParseRoles normalises and de-duplicates role names.
func ParseRoles(names []string) ([]Role, error) {
	seen := make(map[Role]bool, len(names))
	out := make([]Role, 0, len(names))
	for _, n := range names {
		r := Role(strings.ToLower(strings.TrimSpace(n)))
		switch r {
		case RoleAnalyst, RoleRisk, RolePerformance:
		case "":
			continue
		default:
			return nil, fmt.Errorf("app: unknown role %q", n)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// Desk bundles the pipeline components the role tasks drive.
type Desk struct {
	Edge     *service.EdgeDetector
	Risk     *service.RiskSizer
	Reports  *service.ReportGenerator
	Params   *service.ParamsResolver
	Events   *service.EventPublisher
	Archiver domain.Archiver
}

// RoleSchedule holds the cadences and fixed parameters of the role tasks.
type RoleSchedule struct {
	Roles           []Role
	AnalystInterval time.Duration
	RiskInterval    time.Duration
	PerfInterval    time.Duration
	Asset           string
	Wallet          string
	ReportHours     int
	ExportCron      string
}

// DefaultRoleSchedule runs every role at the standard desk cadence.
func DefaultRoleSchedule() RoleSchedule {
	return RoleSchedule{
		Roles:           []Role{RoleAnalyst, RoleRisk, RolePerformance},
		AnalystInterval: time.Hour,
		RiskInterval:    15 * time.Minute,
		PerfInterval:    4 * time.Hour,
		Asset:           service.DefaultAsset,
		ReportHours:     service.DefaultReportHours,
	}
}

// RegisterRoles registers one recurring task per role on s. Every task is
// gated by the resolved enable flag, so pausing the desk never needs a
// restart. Calling it again replaces the same named tasks.
func RegisterRoles(s *scheduler.Scheduler, d Desk, rs RoleSchedule, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", "roles"))
	enabled := d.Params.Enabled

	for _, r := range rs.Roles {
		var err error
		switch r {
		case RoleAnalyst:
			err = s.RegisterRecurring(TaskAnalystHourly, rs.AnalystInterval, analystHandler(d, rs.Asset, logger), enabled)
		case RoleRisk:
			err = s.RegisterRecurring(TaskRisk15m, rs.RiskInterval, riskHandler(d, rs.Wallet), enabled)
		case RolePerformance:
			err = s.RegisterRecurring(TaskPerf4h, rs.PerfInterval, perfHandler(d, rs.ReportHours, logger), enabled)
			if err == nil && rs.ExportCron != "" && d.Archiver != nil {
				err = s.RegisterCron(TaskTradeExport, rs.ExportCron, exportHandler(d.Archiver, time.Now), nil)
			}
		default:
			err = fmt.Errorf("app: unknown role %q", r)
		}
		if err != nil {
			return err
		}
	}

	s.SetObserver(func(ctx context.Context, task string, res domain.StepResult) {
		if res.Outcome != domain.OutcomeFailure {
			return
		}
		d.Events.Publish(ctx, domain.DeskEvent{
			Type: domain.EventTickFailed,
			Data: map[string]any{"task": task, "reason": string(res.Reason), "text": res.Text},
		}, "Desk task failed: "+task, res.Text)
	})

	logger.Info("roles: registered",
		slog.Any("roles", rs.Roles),
		slog.Int("tasks", len(s.Tasks())),
	)
	return nil
}

func analystHandler(d Desk, asset string, logger *slog.Logger) scheduler.Handler {
	return func(ctx context.Context) (domain.StepResult, error) {
		marketID := d.Params.Resolve(ctx).DefaultMarketID
		if marketID == "" {
			logger.DebugContext(ctx, "roles: no default market id; skipping analyst run")
			return domain.StepResult{
				Outcome: domain.OutcomeNoop,
				Reason:  domain.ReasonMissingInput,
				Text:    "No default market configured; analyst run skipped.",
			}, nil
		}
		res, err := d.Edge.Detect(ctx, service.EdgeRequest{MarketID: marketID, Asset: asset})
		return res.StepResult, err
	}
}

func riskHandler(d Desk, wallet string) scheduler.Handler {
	return func(ctx context.Context) (domain.StepResult, error) {
		res, err := d.Risk.Approve(ctx, service.RiskRequest{Wallet: wallet})
		return res.StepResult, err
	}
}

// perfHandler generates the report, then publishes and archives it. Both
// side effects are best-effort and never change the outcome.
func perfHandler(d Desk, hours int, logger *slog.Logger) scheduler.Handler {
	return func(ctx context.Context) (domain.StepResult, error) {
		rep, err := d.Reports.Generate(ctx, service.ReportRequest{Hours: hours})
		if err != nil || rep.Outcome != domain.OutcomeSuccess {
			return rep.StepResult, err
		}

		d.Events.Publish(ctx, domain.DeskEvent{
			Type: domain.EventReport,
			Data: map[string]any{
				"hours":       rep.Hours,
				"tradeCount":  rep.TradeCount,
				"notionalUsd": rep.NotionalUSD,
				"fillRate":    rep.FillRate,
			},
		}, "Desk report", rep.Text)

		if d.Archiver != nil {
			body, err := json.Marshal(rep)
			if err == nil {
				err = d.Archiver.ArchiveReport(ctx, time.Now().UTC(), body)
			}
			if err != nil {
				logger.WarnContext(ctx, "roles: report archive failed", slog.String("error", err.Error()))
			}
		}
		return rep.StepResult, nil
	}
}

// exportHandler copies the previous UTC day of the trade log to cold
// storage.
func exportHandler(a domain.Archiver, now func() time.Time) scheduler.Handler {
	return func(ctx context.Context) (domain.StepResult, error) {
		day := now().UTC().AddDate(0, 0, -1)
		n, err := a.ExportTrades(ctx, day)
		if err != nil {
			return domain.StepResult{
				Outcome: domain.OutcomeFailure,
				Reason:  domain.ReasonDependencyFailed,
				Text:    "Trade export failed: " + err.Error(),
			}, nil
		}
		if n == 0 {
			return domain.StepResult{
				Outcome: domain.OutcomeNoop,
				Text:    "No trades to export for " + day.Format(time.DateOnly) + ".",
			}, nil
		}
		return domain.StepResult{
			Outcome: domain.OutcomeSuccess,
			Text:    fmt.Sprintf("Exported %d trades for %s.", n, day.Format(time.DateOnly)),
		}, nil
	}
}
