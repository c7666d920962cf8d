// Package service assembles the risk engine from configuration.
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/api/stream"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/cache"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/config"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/database"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/events"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/memstore"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/repository"
	"github.com/davidleathers/risk-scoring-engine/internal/metrics"
	"github.com/davidleathers/risk-scoring-engine/internal/service/orchestrator"
	"github.com/davidleathers/risk-scoring-engine/internal/service/riskprofile"
	"github.com/davidleathers/risk-scoring-engine/internal/service/scoring"
)

// Components is the assembled engine
type Components struct {
	Service orchestrator.Service
	Metrics *metrics.Registry

	// Consumer is nil unless the bus is enabled
	Consumer *events.StreamConsumer
	// MemoryBus receives outbound messages when the bus is disabled
	MemoryBus *events.MemoryBus

	// Pool and Redis are nil when not configured
	Pool  *pgxpool.Pool
	Redis *redis.Client

	closers []func()
}

// Close releases connections in reverse order of creation
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

type stores struct {
	profiles  riskprofile.ProfileRepository
	events    riskprofile.EventStore
	reader    orchestrator.EventReader
	anomalies orchestrator.AnomalyRepository
	merchants orchestrator.MerchantRegistry
}

// Build wires storage, Redis, the bus and the orchestrator from cfg.
// Collectors are registered with reg.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*Components, error) {
	c := &Components{Metrics: metrics.NewRegistry(reg)}

	st, err := c.buildStores(ctx, cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	scorer, err := NewScorer(cfg.Engine.Weights, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	engine := riskprofile.NewEngine(st.profiles, st.events, riskprofile.Config{
		Policy:      profile.Policy{Threshold: cfg.Engine.SignificanceThreshold},
		MaxAttempts: cfg.Engine.ConflictAttempts,
		RetryWait:   riskprofile.DefaultConfig().RetryWait,
		Metrics:     c.Metrics,
	}, logger)

	deps := orchestrator.Dependencies{
		Scorer:    scorer,
		Engine:    engine,
		Events:    st.reader,
		Anomalies: st.anomalies,
		Merchants: st.merchants,
		Metrics:   c.Metrics,
		Logger:    logger,
	}

	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(&cfg.Redis, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = client
		c.closers = append(c.closers, func() { _ = client.Close() })

		deps.Locker = cache.NewCustomerLock(client, cfg.Engine.LockTTL, logger)
		if cfg.Engine.VelocityTracking {
			deps.Velocity = cache.NewVelocityTracker(client, logger)
		}
	}

	if cfg.Bus.Enabled {
		deps.Publisher = events.NewStreamPublisher(c.Redis, cfg.Bus.MaxLen, logger)
	} else {
		c.MemoryBus = events.NewMemoryBus(logger)
		deps.Publisher = c.MemoryBus
	}

	svc, err := orchestrator.NewService(deps, orchestrator.Config{
		Topics: orchestrator.Topics{
			ScoreCalculated: cfg.Bus.ScoreStream,
			ProfileUpdated:  cfg.Bus.ProfileStream,
			HighRiskAlert:   cfg.Bus.AlertStream,
		},
		CallTimeout:          cfg.Engine.CallTimeout,
		RetryAttempts:        cfg.Engine.RetryAttempts,
		RetryInitialInterval: cfg.Engine.RetryInitialInterval,
		TrackVelocity:        cfg.Engine.VelocityTracking,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Service = svc

	if cfg.Bus.Enabled {
		handler := stream.NewHandler(svc, logger)
		dlq := events.NewDeadLetterQueue(c.Redis, cfg.Bus.DeadLetterStream, logger)
		c.Consumer = events.NewStreamConsumer(c.Redis, events.ConsumerConfig{
			Stream:        cfg.Bus.InboundStream,
			Group:         cfg.Bus.Group,
			Consumer:      cfg.Bus.Consumer,
			BatchSize:     cfg.Bus.BatchSize,
			Block:         cfg.Bus.Block,
			MaxDeliveries: cfg.Bus.MaxDeliveries,
			ClaimIdle:     cfg.Bus.ClaimIdle,
			RatePerSecond: cfg.Bus.RateLimitPerSecond,
		}, handler.Handle, dlq, c.Metrics, logger)
	}

	logger.Info("risk engine assembled",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis", c.Redis != nil),
		zap.Bool("bus", cfg.Bus.Enabled))
	return c, nil
}

func (c *Components) buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stores, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if cfg.Database.MigrateOnStart {
			if err := database.Migrate(cfg.Database.URL, logger); err != nil {
				return stores{}, err
			}
		}

		pool, err := database.NewPool(ctx, &cfg.Database, logger)
		if err != nil {
			return stores{}, err
		}
		c.Pool = pool
		c.closers = append(c.closers, pool.Close)

		repos := repository.NewRepositories(pool)
		return stores{
			profiles:  repos.Profiles,
			events:    repos.Events,
			reader:    repos.Events,
			anomalies: repos.Anomalies,
			merchants: repos.Merchants,
		}, nil

	case config.DriverMemory:
		ev := memstore.NewEventStore()
		return stores{
			profiles:  memstore.NewProfileStore(),
			events:    ev,
			reader:    ev,
			anomalies: memstore.NewAnomalyStore(),
			merchants: memstore.NewMerchantRegistry(),
		}, nil

	default:
		return stores{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NewScorer builds the standard scorer list with weight overrides keyed by
// factor name. Locations missing from the gazetteer are logged at debug.
func NewScorer(weights map[string]float64, logger *zap.Logger) (*scoring.Aggregator, error) {
	defaults := scoring.DefaultScorers(scoring.NewLoggingGeocoder(scoring.NewGazetteer(), logger))

	known := make(map[risk.Factor]bool, len(defaults))
	for _, ws := range defaults {
		known[ws.Scorer.Factor()] = true
	}

	overrides := make(map[risk.Factor]float64, len(weights))
	for name, w := range weights {
		if !known[risk.Factor(name)] {
			return nil, fmt.Errorf("unknown scoring factor %q", name)
		}
		overrides[risk.Factor(name)] = w
	}

	scorers := scoring.Weights(defaults, overrides)
	agg, err := scoring.NewAggregator(scorers)
	if err != nil {
		return nil, fmt.Errorf("configuring scorers: %w", err)
	}
	return agg, nil
}
