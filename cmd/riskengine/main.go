package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/risk-scoring-engine/internal/api/rest"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/config"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/risk-scoring-engine/internal/service"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("risk engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("risk engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SampleRate,
		ExportTimeout:  telemetry.DefaultConfig().ExportTimeout,
		BatchTimeout:   telemetry.DefaultConfig().BatchTimeout,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	components, err := service.Build(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	var checkers []rest.HealthChecker
	if components.Pool != nil {
		checkers = append(checkers, rest.NewDatabaseHealthChecker(components.Pool))
	}
	if components.Redis != nil {
		checkers = append(checkers, rest.NewRedisHealthChecker(components.Redis))
	}
	health := rest.DefaultHealthConfig()
	health.ServiceName = cfg.Telemetry.ServiceName
	health.ServiceVersion = cfg.Version

	var auth *rest.AuthConfig
	if cfg.Security.JWTSecret != "" {
		auth = &rest.AuthConfig{JWTSecret: []byte(cfg.Security.JWTSecret), Issuer: cfg.Security.JWTIssuer}
	} else if cfg.IsProduction() {
		logger.Warn("security.jwt_secret is empty; the risk API is unauthenticated")
	}

	router := rest.NewRouter(components.Service, rest.Config{
		Auth:     auth,
		Health:   rest.NewHealthService(health, checkers...),
		Metrics:  components.Metrics,
		Gatherer: reg,
		Logger:   logger,
	})
	server := rest.NewServer(cfg.Server, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if components.Consumer != nil {
		g.Go(func() error { return components.Consumer.Run(gctx) })
	}

	logger.Info("risk engine started",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port))
	return g.Wait()
}
