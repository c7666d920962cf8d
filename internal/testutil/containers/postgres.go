// Package containers starts throwaway PostgreSQL and Redis instances for
// integration tests.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/database"
)

// PostgresContainer wraps testcontainers postgres with the risk schema applied
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer starts PostgreSQL and runs the embedded migrations
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("risk_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	if err := database.Migrate(connStr, zap.NewNop()); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: pgContainer,
		ConnectionString:  connStr,
	}, nil
}

// Pool opens a connection pool on the container
func (p *PostgresContainer) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, p.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	return pool, nil
}

// Truncate empties every risk table between tests
func (p *PostgresContainer) Truncate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`TRUNCATE customer_risk_profiles, risk_events, anomalies, merchants`)
	return err
}
