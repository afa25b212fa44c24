// Package scheduler runs named desk tasks on recurring cadences. Each run is
// gated by an enabled check, optionally single-flighted across processes
// through a LockManager, bounded by a timeout and shielded from panics, so
// one failing tick never takes the process down.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/metrics"
	"github.com/alanyoungcy/polydesk/internal/telemetry"
)

// Handler is the work behind a task.
type Handler func(ctx context.Context) (domain.StepResult, error)

// EnabledCheck is consulted at the start of every run. A nil check means
// always enabled.
type EnabledCheck func(ctx context.Context) bool

// Observer receives every completed run.
type Observer func(ctx context.Context, task string, res domain.StepResult)

// Config tunes run behaviour.
type Config struct {
	// RunTimeout bounds one handler invocation. Zero means no bound.
	RunTimeout time.Duration
	// LockTTL is the cross-process lock lifetime; it defaults to RunTimeout
	// or one minute.
	LockTTL time.Duration
	// RunOnStart fires every interval task once when Start is called.
	RunOnStart bool
}

type task struct {
	name     string
	interval time.Duration
	cronExpr string
	cron     cronSpec
	handler  Handler
	enabled  EnabledCheck
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval,omitempty"`
	Cron     string        `json:"cron,omitempty"`
}

// Scheduler holds the registered tasks.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*task
	locks    domain.LockManager
	observer Observer
	cfg      Config
	logger   *slog.Logger
}

// New creates a Scheduler. locks may be nil.
func New(locks domain.LockManager, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.RunTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Scheduler{
		tasks:  make(map[string]*task),
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// SetObserver installs fn as the run observer.
func (s *Scheduler) SetObserver(fn Observer) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// RegisterRecurring registers handler to run every interval under name.
// Registering an existing name replaces it, so repeated startup wiring never
// duplicates a task.
func (s *Scheduler) RegisterRecurring(name string, interval time.Duration, handler Handler, enabled EnabledCheck) error {
	if name == "" || handler == nil {
		return fmt.Errorf("scheduler: register %q: %w", name, domain.ErrMissingInput)
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: register %q: interval must be positive", name)
	}
	s.put(&task{name: name, interval: interval, handler: handler, enabled: enabled})
	return nil
}

// RegisterCron registers handler to run at the minutes matching a 5-field
// cron expression (UTC). Same replacement rule as RegisterRecurring.
func (s *Scheduler) RegisterCron(name, expr string, handler Handler, enabled EnabledCheck) error {
	if name == "" || handler == nil {
		return fmt.Errorf("scheduler: register %q: %w", name, domain.ErrMissingInput)
	}
	spec, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("scheduler: register %q: %w", name, err)
	}
	s.put(&task{name: name, cronExpr: expr, cron: spec, handler: handler, enabled: enabled})
	return nil
}

func (s *Scheduler) put(t *task) {
	s.mu.Lock()
	_, replaced := s.tasks[t.name]
	s.tasks[t.name] = t
	s.mu.Unlock()
	s.logger.Debug("scheduler: task registered",
		slog.String("task", t.name),
		slog.Duration("interval", t.interval),
		slog.String("cron", t.cronExpr),
		slog.Bool("replaced", replaced),
	)
}

// Tasks lists registered tasks sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskInfo{Name: t.name, Interval: t.interval, Cron: t.cronExpr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Trigger runs the named task once through the same gates as a scheduled
// tick. It returns domain.ErrNotFound for an unknown name.
func (s *Scheduler) Trigger(ctx context.Context, name string) (domain.StepResult, error) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return domain.StepResult{}, fmt.Errorf("scheduler: trigger %q: %w", name, domain.ErrNotFound)
	}
	return s.run(ctx, t), nil
}

// Start runs every registered task on its cadence until ctx is cancelled.
// Tasks registered after Start are only reachable through Trigger.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "scheduler: starting", slog.Int("tasks", len(tasks)))

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			if t.cronExpr != "" {
				return s.loopCron(ctx, t)
			}
			return s.loopInterval(ctx, t)
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("scheduler: stopped")
	return nil
}

func (s *Scheduler) loopInterval(ctx context.Context, t *task) error {
	if s.cfg.RunOnStart {
		s.run(ctx, t)
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx, t)
		}
	}
}

func (s *Scheduler) loopCron(ctx context.Context, t *task) error {
	for {
		next, err := t.cron.next(time.Now().UTC())
		if err != nil {
			return fmt.Errorf("scheduler: %s: %w", t.name, err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.run(ctx, t)
		}
	}
}

// run executes one gated invocation of t. It never panics.
func (s *Scheduler) run(ctx context.Context, t *task) (res domain.StepResult) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "desk.tick", "task", t.name)
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "scheduler: task panicked",
				slog.String("task", t.name),
				slog.String("panic", fmt.Sprint(r)),
			)
			res = domain.StepResult{
				Outcome: domain.OutcomeFailure,
				Reason:  domain.ReasonInternal,
				Text:    fmt.Sprintf("%s panicked: %v", t.name, r),
			}
		}
		var spanErr error
		if res.Outcome == domain.OutcomeFailure {
			spanErr = errors.New(res.Text)
		}
		telemetry.End(span, spanErr)
		s.record(ctx, t.name, res, time.Since(start))
	}()

	if t.enabled != nil && !t.enabled(ctx) {
		return domain.StepResult{
			Outcome: domain.OutcomeNoop,
			Reason:  domain.ReasonDisabled,
			Text:    "Desk pipeline is disabled.",
		}
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "task:"+t.name, s.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return domain.StepResult{
				Outcome: domain.OutcomeNoop,
				Reason:  domain.ReasonLockHeld,
				Text:    "Another process is running " + t.name + ".",
			}
		case err != nil:
			// The ledger claim is atomic on its own, so a lock outage only
			// costs duplicate work.
			s.logger.WarnContext(ctx, "scheduler: lock unavailable, running unlocked",
				slog.String("task", t.name),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	out, err := t.handler(runCtx)
	if err != nil {
		return domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonInternal,
			Text:    err.Error(),
		}
	}
	return out
}

func (s *Scheduler) record(ctx context.Context, name string, res domain.StepResult, took time.Duration) {
	metrics.TicksTotal.WithLabelValues(name, string(res.Outcome), string(res.Reason)).Inc()
	metrics.TickDuration.WithLabelValues(name).Observe(took.Seconds())

	attrs := []any{
		slog.String("task", name),
		slog.String("outcome", string(res.Outcome)),
		slog.String("reason", string(res.Reason)),
		slog.Duration("took", took),
	}
	switch res.Outcome {
	case domain.OutcomeFailure:
		s.logger.WarnContext(ctx, "scheduler: tick failed", append(attrs, slog.String("text", res.Text))...)
	case domain.OutcomeSuccess:
		s.logger.InfoContext(ctx, "scheduler: tick done", attrs...)
	default:
		s.logger.DebugContext(ctx, "scheduler: tick noop", attrs...)
	}

	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs(ctx, name, res)
	}
}
