// Package config defines the top-level configuration for the trading desk
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYDESK_* environment variables.
type Config struct {
	Desk       DeskConfig       `toml:"desk"`
	Risk       RiskConfig       `toml:"risk"`
	Forecast   ForecastConfig   `toml:"forecast"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	// Ledger selects the store backend: "postgres" or "memory".
	Ledger   string `toml:"ledger"`
	LogLevel string `toml:"log_level"`
}

// DeskConfig holds the role schedule and pipeline defaults.
type DeskConfig struct {
	// Roles lists the desk roles this process runs: analyst, risk, performance.
	Roles            []string `toml:"roles"`
	Enabled          bool     `toml:"enabled"`
	DefaultMarketID  string   `toml:"default_market_id"`
	DefaultAsset     string   `toml:"default_asset"`
	EdgeThresholdBps float64  `toml:"edge_threshold_bps"`
	WalletAddress    string   `toml:"wallet_address"`
	AnalystInterval  duration `toml:"analyst_interval"`
	RiskInterval     duration `toml:"risk_interval"`
	PerfInterval     duration `toml:"perf_interval"`
	ReportHours      int      `toml:"report_hours"`
	// ExportCron schedules the daily trade log export; empty disables it.
	ExportCron    string   `toml:"export_cron"`
	RunOnStart    bool     `toml:"run_on_start"`
	TaskTimeout   duration `toml:"task_timeout"`
	LedgerTimeout duration `toml:"ledger_timeout"`
	QuoteTimeout  duration `toml:"quote_timeout"`
}

// RiskConfig holds the sizing defaults. The risk_config table overlays these
// at the start of every tick.
type RiskConfig struct {
	BankrollUSD    float64 `toml:"bankroll_usd"`
	KellyFraction  float64 `toml:"kelly_fraction"`
	MaxPositionPct float64 `toml:"max_position_pct"`
	MinSizeUSD     float64 `toml:"min_size_usd"`
	MaxSizeUSD     float64 `toml:"max_size_usd"`
	SlippageBps    float64 `toml:"slippage_bps"`
}

// ForecastConfig holds the forecast vendor parameters.
type ForecastConfig struct {
	Provider   string   `toml:"provider"`
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	RatePerMin float64  `toml:"rate_per_min"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	ClobHost   string   `toml:"clob_host"`
	GammaHost  string   `toml:"gamma_host"`
	Timeout    duration `toml:"timeout"`
	RatePerSec float64  `toml:"rate_per_sec"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; with
// Enabled false the desk runs without quote cache, kill switch, locks or bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on every /desk request.
	APIKey string `toml:"api_key"`
	// RateLimit is the per-client request budget per minute; zero disables
	// limiting. Requires Redis.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TelemetryConfig controls span export.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	risk := domain.DefaultRiskParams()
	return Config{
		Desk: DeskConfig{
			Roles:            []string{"analyst", "risk", "performance"},
			Enabled:          true,
			DefaultAsset:     "BTC",
			EdgeThresholdBps: risk.EdgeThresholdBps,
			AnalystInterval:  duration{time.Hour},
			RiskInterval:     duration{15 * time.Minute},
			PerfInterval:     duration{4 * time.Hour},
			ReportHours:      24 * 7,
			ExportCron:       "15 0 * * *",
			TaskTimeout:      duration{2 * time.Minute},
			LedgerTimeout:    duration{5 * time.Second},
			QuoteTimeout:     duration{8 * time.Second},
		},
		Risk: RiskConfig{
			BankrollUSD:    risk.BankrollUSD,
			KellyFraction:  risk.KellyFraction,
			MaxPositionPct: risk.MaxPositionPct,
			MinSizeUSD:     risk.MinSizeUSD,
			MaxSizeUSD:     risk.MaxSizeUSD,
			SlippageBps:    risk.SlippageBps,
		},
		Forecast: ForecastConfig{
			Provider:   "synth",
			BaseURL:    "https://api.synthdata.co",
			Timeout:    duration{10 * time.Second},
			RatePerMin: 30,
		},
		Polymarket: PolymarketConfig{
			ClobHost:   "https://clob.polymarket.com",
			GammaHost:  "https://gamma-api.polymarket.com",
			Timeout:    duration{10 * time.Second},
			RatePerSec: 5,
			QuoteTTL:   duration{30 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polydesk-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.EventSignalEmitted), string(domain.EventReport), string(domain.EventTickFailed)},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "polydesk",
		},
		Ledger:   "postgres",
		LogLevel: "info",
	}
}

// validRoles enumerates the accepted desk role names.
var validRoles = map[string]bool{
	"analyst":     true,
	"risk":        true,
	"performance": true,
}

var validLedgers = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLedgers[strings.ToLower(c.Ledger)] {
		errs = append(errs, fmt.Sprintf("unknown ledger %q (valid: postgres, memory)", c.Ledger))
	}

	// Desk
	for _, r := range c.Desk.Roles {
		if !validRoles[strings.ToLower(strings.TrimSpace(r))] {
			errs = append(errs, fmt.Sprintf("desk: unknown role %q (valid: analyst, risk, performance)", r))
		}
	}
	if c.Desk.EdgeThresholdBps < 0 {
		errs = append(errs, "desk: edge_threshold_bps must be >= 0")
	}
	if c.Desk.AnalystInterval.Duration <= 0 || c.Desk.RiskInterval.Duration <= 0 || c.Desk.PerfInterval.Duration <= 0 {
		errs = append(errs, "desk: analyst_interval, risk_interval and perf_interval must be positive")
	}
	if c.Desk.ReportHours < 1 {
		errs = append(errs, "desk: report_hours must be >= 1")
	}
	if c.Desk.DefaultMarketID != "" && !strings.HasPrefix(c.Desk.DefaultMarketID, "0x") {
		errs = append(errs, "desk: default_market_id must be a 0x condition id")
	}
	if c.Desk.WalletAddress != "" && !common.IsHexAddress(c.Desk.WalletAddress) {
		errs = append(errs, "desk: wallet_address is not a valid address")
	}

	// Risk
	if c.Risk.BankrollUSD <= 0 {
		errs = append(errs, "risk: bankroll_usd must be > 0")
	}
	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		errs = append(errs, "risk: kelly_fraction must be in (0, 1]")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		errs = append(errs, "risk: max_position_pct must be in (0, 1]")
	}
	if c.Risk.MinSizeUSD <= 0 {
		errs = append(errs, "risk: min_size_usd must be > 0")
	}
	if c.Risk.MaxSizeUSD < c.Risk.MinSizeUSD {
		errs = append(errs, "risk: max_size_usd must not be below min_size_usd")
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}

	// Supabase
	if strings.EqualFold(c.Ledger, "postgres") {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RiskParams builds the startup RiskParams from the desk and risk sections.
func (c *Config) RiskParams() domain.RiskParams {
	return domain.RiskParams{
		BankrollUSD:      c.Risk.BankrollUSD,
		KellyFraction:    c.Risk.KellyFraction,
		MaxPositionPct:   c.Risk.MaxPositionPct,
		MinSizeUSD:       c.Risk.MinSizeUSD,
		MaxSizeUSD:       c.Risk.MaxSizeUSD,
		SlippageBps:      c.Risk.SlippageBps,
		EdgeThresholdBps: c.Desk.EdgeThresholdBps,
		DefaultMarketID:  c.Desk.DefaultMarketID,
		Enabled:          c.Desk.Enabled,
	}
}
