package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(calls *atomic.Int32) Handler {
	return func(context.Context) (domain.StepResult, error) {
		calls.Add(1)
		return domain.StepResult{Outcome: domain.OutcomeSuccess, Text: "ok"}, nil
	}
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := New(nil, Config{}, testLogger())
	var first, second atomic.Int32
	require.NoError(t, s.RegisterRecurring("POLYMARKET_RISK_15M", 15*time.Minute, okHandler(&first), nil))
	require.NoError(t, s.RegisterRecurring("POLYMARKET_RISK_15M", 15*time.Minute, okHandler(&second), nil))

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 15*time.Minute, tasks[0].Interval)

	_, err := s.Trigger(context.Background(), "POLYMARKET_RISK_15M")
	require.NoError(t, err)
	assert.Zero(t, first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestRegisterValidation(t *testing.T) {
	s := New(nil, Config{}, testLogger())
	var n atomic.Int32
	assert.Error(t, s.RegisterRecurring("", time.Minute, okHandler(&n), nil))
	assert.Error(t, s.RegisterRecurring("x", 0, okHandler(&n), nil))
	assert.Error(t, s.RegisterRecurring("x", time.Minute, nil, nil))
	assert.Error(t, s.RegisterCron("x", "* * *", okHandler(&n), nil))
	assert.Error(t, s.RegisterCron("x", "61 * * * *", okHandler(&n), nil))
	require.NoError(t, s.RegisterCron("x", "15 0 * * *", okHandler(&n), nil))
	assert.Equal(t, "15 0 * * *", s.Tasks()[0].Cron)
}

func TestTriggerUnknownTask(t *testing.T) {
	_, err := New(nil, Config{}, testLogger()).Trigger(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTriggerHonoursEnabledCheck(t *testing.T) {
	s := New(nil, Config{}, testLogger())
	var calls atomic.Int32
	var enabled atomic.Bool
	require.NoError(t, s.RegisterRecurring("t", time.Hour, okHandler(&calls), func(context.Context) bool { return enabled.Load() }))

	res, err := s.Trigger(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoop, res.Outcome)
	assert.Equal(t, domain.ReasonDisabled, res.Reason)
	assert.Zero(t, calls.Load())

	enabled.Store(true)
	res, err = s.Trigger(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunRecoversPanicsAndErrors(t *testing.T) {
	s := New(nil, Config{}, testLogger())
	require.NoError(t, s.RegisterRecurring("panics", time.Hour, func(context.Context) (domain.StepResult, error) {
		panic("nil map")
	}, nil))
	require.NoError(t, s.RegisterRecurring("errors", time.Hour, func(context.Context) (domain.StepResult, error) {
		return domain.StepResult{}, errors.New("bug")
	}, nil))

	var observed []string
	s.SetObserver(func(_ context.Context, task string, res domain.StepResult) {
		observed = append(observed, task+":"+string(res.Outcome))
	})

	res, err := s.Trigger(context.Background(), "panics")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Equal(t, domain.ReasonInternal, res.Reason)
	assert.Contains(t, res.Text, "nil map")

	res, err = s.Trigger(context.Background(), "errors")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Equal(t, "bug", res.Text)

	assert.Equal(t, []string{"panics:failure", "errors:failure"}, observed)
}

func TestLockHeldSkipsRun(t *testing.T) {
	locks := &memLocks{}
	s := New(locks, Config{}, testLogger())
	var calls atomic.Int32
	require.NoError(t, s.RegisterRecurring("t", time.Hour, okHandler(&calls), nil))

	unlock, err := locks.Acquire(context.Background(), "task:t", time.Minute)
	require.NoError(t, err)

	res, err := s.Trigger(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonLockHeld, res.Reason)
	assert.Zero(t, calls.Load())

	unlock()
	res, err = s.Trigger(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Empty(t, locks.held)
}

func TestLockOutageStillRuns(t *testing.T) {
	s := New(&memLocks{err: errors.New("redis: connection refused")}, Config{}, testLogger())
	var calls atomic.Int32
	require.NoError(t, s.RegisterRecurring("t", time.Hour, okHandler(&calls), nil))

	res, err := s.Trigger(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunTimeoutBoundsHandler(t *testing.T) {
	s := New(nil, Config{RunTimeout: 20 * time.Millisecond}, testLogger())
	require.NoError(t, s.RegisterRecurring("slow", time.Hour, func(ctx context.Context) (domain.StepResult, error) {
		<-ctx.Done()
		return domain.StepResult{Outcome: domain.OutcomeFailure, Reason: domain.ReasonDependencyFailed, Text: ctx.Err().Error()}, nil
	}, nil))

	res, err := s.Trigger(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDependencyFailed, res.Reason)
}

func TestStartRunsTicksUntilCancelled(t *testing.T) {
	s := New(nil, Config{RunOnStart: true}, testLogger())
	var calls atomic.Int32
	require.NoError(t, s.RegisterRecurring("fast", 10*time.Millisecond, okHandler(&calls), nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestCronNext(t *testing.T) {
	spec, err := parseCron("15 0 * * *")
	require.NoError(t, err)

	after := time.Date(2026, 3, 1, 23, 59, 30, 0, time.UTC)
	next, err := spec.next(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 15, 0, 0, time.UTC), next)

	spec, err = parseCron("0 3 1 * *")
	require.NoError(t, err)
	next, err = spec.next(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC), next)
}
