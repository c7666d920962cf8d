package rest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HealthChecker checks the health of a dependency
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheckResult
}

// HealthStatus represents the health status
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusFail HealthStatus = "fail"
)

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       HealthStatus  `json:"status"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	LastChecked  time.Time     `json:"last_checked"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status        HealthStatus                 `json:"status"`
	Version       string                       `json:"version"`
	ServiceName   string                       `json:"service_name"`
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Checks        map[string]HealthCheckResult `json:"checks,omitempty"`
}

// HealthConfig configures the health service
type HealthConfig struct {
	// CacheDuration is how long check results are reused
	CacheDuration time.Duration

	// Timeout bounds each check
	Timeout time.Duration

	ServiceName    string
	ServiceVersion string
}

// DefaultHealthConfig returns default configuration
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CacheDuration:  5 * time.Second,
		Timeout:        2 * time.Second,
		ServiceName:    "risk-scoring-engine",
		ServiceVersion: "dev",
	}
}

// HealthService runs registered dependency checks
type HealthService struct {
	checkers  []HealthChecker
	cache     sync.Map
	config    HealthConfig
	tracer    trace.Tracer
	startTime time.Time
}

type cachedHealthResult struct {
	result    HealthCheckResult
	timestamp time.Time
}

// NewHealthService creates a new health service
func NewHealthService(config HealthConfig, checkers ...HealthChecker) *HealthService {
	return &HealthService{
		checkers:  checkers,
		config:    config,
		tracer:    otel.Tracer("api.rest.health"),
		startTime: time.Now(),
	}
}

// Handler reports 200 when every check passes and 503 otherwise
func (h *HealthService) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "health.check")
		defer span.End()

		checks := h.runChecks(ctx)

		status, code := HealthStatusPass, http.StatusOK
		for _, result := range checks {
			if result.Status == HealthStatusFail {
				status, code = HealthStatusFail, http.StatusServiceUnavailable
				break
			}
		}

		span.SetAttributes(
			attribute.String("health.status", string(status)),
			attribute.Int("health.checks_count", len(checks)),
		)

		writeJSON(w, code, HealthResponse{
			Status:        status,
			Version:       h.config.ServiceVersion,
			ServiceName:   h.config.ServiceName,
			UptimeSeconds: time.Since(h.startTime).Seconds(),
			Checks:        checks,
		})
	}
}

func (h *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	results := make(map[string]HealthCheckResult, len(h.checkers))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			result, ok := h.cached(c.Name())
			if !ok {
				checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
				defer cancel()

				start := time.Now()
				result = c.Check(checkCtx)
				result.ResponseTime = time.Since(start)
				result.LastChecked = time.Now().UTC()
				h.cache.Store(c.Name(), cachedHealthResult{result: result, timestamp: time.Now()})
			}

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

func (h *HealthService) cached(name string) (HealthCheckResult, bool) {
	if val, ok := h.cache.Load(name); ok {
		c := val.(cachedHealthResult)
		if time.Since(c.timestamp) < h.config.CacheDuration {
			return c.result, true
		}
	}
	return HealthCheckResult{}, false
}

// CheckFunc adapts a ping function to HealthChecker
type CheckFunc struct {
	name string
	ping func(ctx context.Context) error
}

// NewCheckFunc names a ping function
func NewCheckFunc(name string, ping func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, ping: ping}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) HealthCheckResult {
	if err := c.ping(ctx); err != nil {
		return HealthCheckResult{Status: HealthStatusFail, Error: err.Error()}
	}
	return HealthCheckResult{Status: HealthStatusPass}
}

// NewDatabaseHealthChecker pings a connection pool
func NewDatabaseHealthChecker(pool *pgxpool.Pool) *CheckFunc {
	return NewCheckFunc("postgres", pool.Ping)
}

// NewRedisHealthChecker pings a redis client
func NewRedisHealthChecker(client *redis.Client) *CheckFunc {
	return NewCheckFunc("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
