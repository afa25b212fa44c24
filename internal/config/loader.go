package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYDESK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Desk ──
	setStringSlice(&cfg.Desk.Roles, "POLYDESK_DESK_ROLES")
	setBool(&cfg.Desk.Enabled, "POLYDESK_DESK_ENABLED")
	setStr(&cfg.Desk.DefaultMarketID, "POLYDESK_DESK_DEFAULT_MARKET_ID")
	setStr(&cfg.Desk.DefaultAsset, "POLYDESK_DESK_DEFAULT_ASSET")
	setFloat64(&cfg.Desk.EdgeThresholdBps, "POLYDESK_DESK_EDGE_THRESHOLD_BPS")
	setStr(&cfg.Desk.WalletAddress, "POLYDESK_DESK_WALLET_ADDRESS")
	setDuration(&cfg.Desk.AnalystInterval, "POLYDESK_DESK_ANALYST_INTERVAL")
	setDuration(&cfg.Desk.RiskInterval, "POLYDESK_DESK_RISK_INTERVAL")
	setDuration(&cfg.Desk.PerfInterval, "POLYDESK_DESK_PERF_INTERVAL")
	setInt(&cfg.Desk.ReportHours, "POLYDESK_DESK_REPORT_HOURS")
	setStr(&cfg.Desk.ExportCron, "POLYDESK_DESK_EXPORT_CRON")
	setBool(&cfg.Desk.RunOnStart, "POLYDESK_DESK_RUN_ON_START")

	// ── Risk ──
	setFloat64(&cfg.Risk.BankrollUSD, "POLYDESK_RISK_BANKROLL_USD")
	setFloat64(&cfg.Risk.KellyFraction, "POLYDESK_RISK_KELLY_FRACTION")
	setFloat64(&cfg.Risk.MaxPositionPct, "POLYDESK_RISK_MAX_POSITION_PCT")
	setFloat64(&cfg.Risk.MinSizeUSD, "POLYDESK_RISK_MIN_SIZE_USD")
	setFloat64(&cfg.Risk.MaxSizeUSD, "POLYDESK_RISK_MAX_SIZE_USD")
	setFloat64(&cfg.Risk.SlippageBps, "POLYDESK_RISK_SLIPPAGE_BPS")

	// ── Forecast ──
	setStr(&cfg.Forecast.BaseURL, "POLYDESK_FORECAST_BASE_URL")
	setStr(&cfg.Forecast.APIKey, "POLYDESK_FORECAST_API_KEY")
	setStr(&cfg.Forecast.APIKey, "SYNTH_API_KEY") // compatibility alias
	setDuration(&cfg.Forecast.Timeout, "POLYDESK_FORECAST_TIMEOUT")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYDESK_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYDESK_POLYMARKET_GAMMA_HOST")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "POLYDESK_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "POLYDESK_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYDESK_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYDESK_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYDESK_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYDESK_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYDESK_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYDESK_SUPABASE_POOL_MAX_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYDESK_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYDESK_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "POLYDESK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYDESK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYDESK_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYDESK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYDESK_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setBool(&cfg.Telemetry.Enabled, "POLYDESK_TELEMETRY_ENABLED")
	setStr(&cfg.Ledger, "POLYDESK_LEDGER")
	setStr(&cfg.LogLevel, "POLYDESK_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
