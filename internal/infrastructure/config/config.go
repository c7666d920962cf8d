package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when no config file is given
const DefaultPath = "configs/config.yaml"

// EnvPrefix marks the environment overrides. Nested keys use a double
// underscore, e.g. RISK_SERVER__READ_TIMEOUT.
const EnvPrefix = "RISK_"

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Bus       BusConfig       `koanf:"bus"`
	Engine    EngineConfig    `koanf:"engine"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Security  SecurityConfig  `koanf:"security"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// BusConfig names the Redis streams and tunes the consumer group
type BusConfig struct {
	Enabled            bool          `koanf:"enabled"`
	InboundStream      string        `koanf:"inbound_stream"`
	ScoreStream        string        `koanf:"score_stream"`
	ProfileStream      string        `koanf:"profile_stream"`
	AlertStream        string        `koanf:"alert_stream"`
	DeadLetterStream   string        `koanf:"dead_letter_stream"`
	Group              string        `koanf:"group"`
	Consumer           string        `koanf:"consumer"`
	BatchSize          int64         `koanf:"batch_size"`
	Block              time.Duration `koanf:"block"`
	MaxDeliveries      int64         `koanf:"max_deliveries"`
	ClaimIdle          time.Duration `koanf:"claim_idle"`
	RateLimitPerSecond float64       `koanf:"rate_limit_per_second"`
	MaxLen             int64         `koanf:"max_len"`
}

// EngineConfig tunes scoring and profile maintenance
type EngineConfig struct {
	Weights               map[string]float64 `koanf:"weights"`
	SignificanceThreshold int                `koanf:"significance_threshold"`
	CallTimeout           time.Duration      `koanf:"call_timeout"`
	RetryAttempts         int                `koanf:"retry_attempts"`
	RetryInitialInterval  time.Duration      `koanf:"retry_initial_interval"`
	ConflictAttempts      int                `koanf:"conflict_attempts"`
	LockTTL               time.Duration      `koanf:"lock_ttl"`
	VelocityTracking      bool               `koanf:"velocity_tracking"`
}

type TelemetryConfig struct {
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	OTLPEndpoint   string  `koanf:"otlp_endpoint"`
	SampleRate     float64 `koanf:"sample_rate"`
	Insecure       bool    `koanf:"insecure"`
}

type SecurityConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		Bus: BusConfig{
			InboundStream:      "transaction-validated",
			ScoreStream:        "risk-score-calculated",
			ProfileStream:      "risk-profile-updated",
			AlertStream:        "risk-alert-high-score",
			DeadLetterStream:   "transaction-validated-dlq",
			Group:              "risk-scoring-engine",
			Consumer:           "risk-scoring-engine-1",
			BatchSize:          16,
			Block:              2 * time.Second,
			MaxDeliveries:      5,
			ClaimIdle:          30 * time.Second,
			RateLimitPerSecond: 500,
			MaxLen:             100000,
		},
		Engine: EngineConfig{
			SignificanceThreshold: 10,
			CallTimeout:           2 * time.Second,
			RetryAttempts:         3,
			RetryInitialInterval:  50 * time.Millisecond,
			ConflictAttempts:      5,
			LockTTL:               10 * time.Second,
			VelocityTracking:      true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "risk-scoring-engine",
			ServiceVersion: "dev",
			SampleRate:     1.0,
			Insecure:       true,
		},
		Security: SecurityConfig{
			JWTIssuer: "risk-scoring-engine",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// DefaultPath when empty) and RISK_ environment variables, in that order.
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Bus.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when the bus is enabled")
	}
	if c.Engine.SignificanceThreshold < 0 {
		return fmt.Errorf("engine.significance_threshold must not be negative")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("engine.call_timeout must be positive")
	}
	for factor, w := range c.Engine.Weights {
		if w < 0 {
			return fmt.Errorf("engine.weights.%s must not be negative", factor)
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
