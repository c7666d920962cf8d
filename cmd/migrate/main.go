package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/config"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/database"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, version")
		steps      = flag.Int("steps", 1, "Number of migrations to roll back (down only)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *action, *steps, logger); err != nil {
		logger.Error("migration failed", zap.String("action", *action), zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, action string, steps int, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	m, err := database.NewMigrator(cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	switch action {
	case "up":
		return m.Up()
	case "down":
		if steps <= 0 {
			return fmt.Errorf("steps must be positive")
		}
		return m.Down(steps)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
