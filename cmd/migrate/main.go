package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/zap"

	"github.com/davidleathers/interaction-analytics/internal/infrastructure/config"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/database"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/telemetry"
)

func main() {
	var (
		action     = flag.String("action", "up", "Migration action: up, down, version")
		steps      = flag.Int("steps", 1, "Number of migrations to roll back (down only)")
		configPath = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg.Database.URL, *action, *steps, logger); err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func run(databaseURL, action string, steps int, logger *zap.Logger) error {
	if databaseURL == "" {
		return fmt.Errorf("database url is not configured")
	}

	migrator, err := database.NewMigrator(databaseURL, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	switch action {
	case "up":
		return migrator.Up()
	case "down":
		if steps < 1 {
			return fmt.Errorf("steps must be at least 1, got %d", steps)
		}
		return migrator.Down(steps)
	case "version":
		version, dirty, ok, err := migrator.Version()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("no migrations applied")
			return nil
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
