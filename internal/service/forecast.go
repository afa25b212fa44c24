package service

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/telemetry"
)

// SyntheticProvider tags signals built from a synthetic forecast.
const SyntheticProvider = "synthetic"

// ProbabilityClient is the live forecast vendor.
type ProbabilityClient interface {
	Configured() bool
	ProbabilityUp(ctx context.Context, asset string) (float64, error)
}

// ForecastService implements domain.Forecaster on top of a vendor client.
// It never fails: an unconfigured client, a timeout or a bad response all
// degrade to SyntheticForecast.
type ForecastService struct {
	client   ProbabilityClient
	provider string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewForecastService creates a ForecastService. client may be nil.
func NewForecastService(client ProbabilityClient, provider string, timeout time.Duration, logger *slog.Logger) *ForecastService {
	return &ForecastService{
		client:   client,
		provider: provider,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "forecast")),
	}
}

// Forecast returns a probability for asset.
func (s *ForecastService) Forecast(ctx context.Context, asset string) (domain.Forecast, error) {
	if s.client == nil || !s.client.Configured() {
		return SyntheticForecast(asset), nil
	}

	ctx, span := telemetry.StartSpan(ctx, "forecast.fetch", "asset", asset)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	p, err := s.client.ProbabilityUp(ctx, asset)
	telemetry.End(span, err)
	if err != nil {
		s.logger.WarnContext(ctx, "forecast: vendor failed, using synthetic",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
		return SyntheticForecast(asset), nil
	}
	return domain.Forecast{Probability: p, Provider: s.provider, Source: domain.SourceLive}, nil
}

// SyntheticForecast derives a stable probability in [0.35, 0.65) from an
// FNV-1a hash of the upper-cased asset.
func SyntheticForecast(asset string) domain.Forecast {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToUpper(strings.TrimSpace(asset))))
	p := 0.35 + float64(h.Sum32()%3000)/10000
	return domain.Forecast{Probability: p, Provider: SyntheticProvider, Source: domain.SourceSynthetic}
}

// Compile-time interface check.
var _ domain.Forecaster = (*ForecastService)(nil)
