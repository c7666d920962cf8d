package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/config"
)

// Key prefixes
const (
	VelocityPrefix = "risk:velocity:"
	LockPrefix     = "risk:lock:customer:"
)

const dialTimeout = 5 * time.Second

// NewClient connects to Redis. cfg.URL may be a redis:// URL or a host:port
// address.
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL, DB: cfg.DB}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis client initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB))

	return client, nil
}
