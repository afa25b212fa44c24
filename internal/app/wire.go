package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polydesk/internal/blob/s3"
	"github.com/alanyoungcy/polydesk/internal/cache/redis"
	"github.com/alanyoungcy/polydesk/internal/config"
	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/notify"
	"github.com/alanyoungcy/polydesk/internal/platform/polymarket"
	"github.com/alanyoungcy/polydesk/internal/platform/synth"
	"github.com/alanyoungcy/polydesk/internal/server/handler"
	"github.com/alanyoungcy/polydesk/internal/service"
	"github.com/alanyoungcy/polydesk/internal/store/memory"
	"github.com/alanyoungcy/polydesk/internal/store/postgres"
)

// Dependencies bundles the concrete collaborators built from configuration.
// Optional ones (Redis, S3, notifications) are nil when not configured.
type Dependencies struct {
	Ledger     *domain.Ledger
	Quotes     domain.QuoteSource
	Forecaster domain.Forecaster

	Locks   domain.LockManager
	Switch  domain.Switch
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	Archiver domain.Archiver
	Notifier service.Notifier

	// Checks feed /api/health, keyed by dependency name.
	Checks map[string]handler.Check
}

// Wire builds every dependency from cfg and returns them with a cleanup
// function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Ledger ---
	switch cfg.Ledger {
	case "memory":
		logger.WarnContext(ctx, "wire: using in-memory ledger; state is lost on exit")
		deps.Ledger = memory.New().Ledger()
	default:
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Supabase.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Ledger = pg.Ledger()
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis ---
	var quoteCache domain.QuoteCache
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Locks = redis.NewLockManager(rc)
		deps.Switch = redis.NewSwitch(rc)
		deps.Bus = redis.NewSignalBus(rc)
		deps.Limiter = redis.NewRateLimiter(rc)
		quoteCache = redis.NewQuoteCache(rc)
		deps.Checks["redis"] = rc.Ping
	}

	// --- Market data ---
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.Timeout.Duration, cfg.Polymarket.RatePerSec)
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, cfg.Polymarket.Timeout.Duration, cfg.Polymarket.RatePerSec)
	deps.Quotes = polymarket.NewQuoteSource(gamma, clob, quoteCache, cfg.Polymarket.QuoteTTL.Duration, logger)

	var probs service.ProbabilityClient
	if cfg.Forecast.Provider == "synth" {
		probs = synth.NewClient(cfg.Forecast.BaseURL, cfg.Forecast.APIKey, cfg.Forecast.Timeout.Duration, cfg.Forecast.RatePerMin)
	}
	deps.Forecaster = service.NewForecastService(probs, cfg.Forecast.Provider, cfg.Forecast.Timeout.Duration, logger)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), s3blob.NewReader(sc), deps.Ledger.Trades, logger)
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	if n := notify.FromConfig(
		cfg.Notify.TelegramToken,
		cfg.Notify.TelegramChatID,
		cfg.Notify.DiscordWebhookURL,
		cfg.Notify.Events,
		logger,
	); n != nil {
		deps.Notifier = n
		logger.InfoContext(ctx, "wire: notifications enabled", slog.Any("senders", n.Senders()))
	}

	return deps, cleanup, nil
}
