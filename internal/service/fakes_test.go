package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

const testMarket = "0x2222222222222222222222222222222222222222222222222222222222222222"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedForecaster struct {
	p float64
}

func (f fixedForecaster) Forecast(context.Context, string) (domain.Forecast, error) {
	return domain.Forecast{Probability: f.p, Provider: "synth", Source: domain.SourceLive}, nil
}

type fakeQuotes struct {
	mu       sync.Mutex
	quotes   map[string]domain.Quote
	details  map[string]domain.MarketDetail
	quoteErr error
	calls    int
}

func (f *fakeQuotes) Quotes(_ context.Context, marketID string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.quoteErr != nil {
		return domain.Quote{}, f.quoteErr
	}
	q, ok := f.quotes[marketID]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (f *fakeQuotes) Detail(_ context.Context, marketID string) (domain.MarketDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[marketID]
	if !ok {
		return domain.MarketDetail{}, domain.ErrNotFound
	}
	return d, nil
}

type fakeSwitch struct {
	on  bool
	err error
}

func (s *fakeSwitch) Enabled(context.Context) (bool, error) { return s.on, s.err }

func (s *fakeSwitch) SetEnabled(_ context.Context, on bool) error {
	s.on = on
	return nil
}

type failingSignals struct {
	domain.SignalStore
}

func (failingSignals) Create(context.Context, domain.Signal) error {
	return errors.New("connection reset")
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ptr[T any](v T) *T { return &v }
