package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/interaction-analytics/internal/api/rest"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/config"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/telemetry"
	"github.com/davidleathers/interaction-analytics/internal/metrics"
	"github.com/davidleathers/interaction-analytics/internal/service"
	"github.com/davidleathers/interaction-analytics/internal/service/ingest"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting interaction analytics",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver)

	provider, err := telemetry.InitializeOpenTelemetry(ctx, cfg.Telemetry, cfg.Version, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown telemetry", "error", err)
		}
	}()

	zapLogger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()

	registry, err := metrics.NewRegistry("interaction-analytics")
	if err != nil {
		return err
	}

	var extra []ingest.Publisher
	var hub *rest.StreamHub
	if cfg.Stream.Enabled {
		hub = rest.NewStreamHub(rest.StreamConfig{
			BufferSize:   cfg.Stream.BufferSize,
			PingInterval: cfg.Stream.PingInterval,
		}, zapLogger.Named("stream"), registry)
		extra = append(extra, hub)
	}

	services, err := service.NewServiceFactories(cfg, zapLogger, registry).Build(ctx, extra...)
	if err != nil {
		return err
	}

	var contract *rest.ContractValidator
	if cfg.Server.ValidateContract {
		if contract, err = rest.NewContractValidator(); err != nil {
			services.Close()
			return err
		}
	}

	handler := rest.NewHandler(&rest.Services{
		Analytics: services.Analytics,
		Ingest:    services.Ingest,
		Health:    services.Repository,
	})
	router := rest.NewRouter(handler, rest.RouterConfig{
		Logger:      logger,
		RateLimiter: rest.NewRateLimiter(cfg.Security.RateLimit.RequestsPerSecond, cfg.Security.RateLimit.BurstSize),
		Contract:    contract,
		Stream:      hub,
	})

	server := rest.NewServer(cfg.Server, router, logger)
	if hub != nil {
		server.OnShutdown(hub.Close)
	}
	server.OnShutdown(services.Close)

	zapLogger.Info("services ready", zap.Bool("stream", hub != nil), zap.Bool("contract", contract != nil))
	return server.Run(ctx)
}
