// Package rest exposes the risk engine over HTTP.
package rest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/metrics"
	"github.com/davidleathers/risk-scoring-engine/internal/service/orchestrator"
)

// Config holds API configuration
type Config struct {
	// Auth enables bearer token checks on the risk routes when set
	Auth     *AuthConfig
	Health   *HealthService
	Metrics  *metrics.Registry
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter wires the risk API
func NewRouter(svc orchestrator.Service, config Config) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	health := config.Health
	if health == nil {
		health = NewHealthService(DefaultHealthConfig())
	}
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	var auth *AuthMiddleware
	if config.Auth != nil && len(config.Auth.JWTSecret) > 0 {
		auth = NewAuthMiddleware(config.Auth)
	}

	tracer := otel.Tracer("api.rest")
	handlers := NewHandlers(svc, logger)
	mux := http.NewServeMux()

	route := func(pattern, scope string, h http.HandlerFunc) {
		middlewares := []Middleware{
			TracingMiddleware(tracer, pattern),
			RequestLoggingMiddleware(logger, config.Metrics, pattern),
		}
		if auth != nil && scope != "" {
			middlewares = append(middlewares, auth.Middleware(scope))
		}
		mux.Handle(pattern, Chain(h, middlewares...))
	}

	route("POST /api/v1/risk/calculate", ScopeRiskWrite, handlers.Calculate)
	route("GET /api/v1/risk/customers/{customerId}/profile", ScopeRiskRead, handlers.Profile)
	route("GET /api/v1/risk/customers/{customerId}/events", ScopeRiskRead, handlers.Events)
	route("GET /api/v1/risk/anomalies", ScopeRiskRead, handlers.Anomalies)
	route("GET /health", "", health.Handler())

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return Chain(mux,
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
	)
}
