// Command polydesk runs the prediction-market desk: the analyst, risk and
// performance roles on their schedules plus the read-only query API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/polydesk/internal/app"
	"github.com/alanyoungcy/polydesk/internal/config"
	"github.com/alanyoungcy/polydesk/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for env only)")
	paperFill := flag.Bool("paper-fill", false, "fill sized orders at the live quote instead of waiting for an executor")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))

	if err := telemetry.Init(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	}); err != nil {
		logger.Error("telemetry init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("polydesk starting",
		slog.String("version", version),
		slog.String("config", *configPath),
		slog.Any("roles", cfg.Desk.Roles),
	)

	application := app.New(cfg, app.Options{PaperFill: *paperFill}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := application.Run(ctx)
	stop()
	application.Close()

	if err := telemetry.Shutdown(context.Background()); err != nil {
		logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("desk exited with error", slog.String("error", runErr.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", runErr)
		os.Exit(1)
	}
	logger.Info("polydesk stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
