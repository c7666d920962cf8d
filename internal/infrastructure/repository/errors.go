package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
)

// Common repository errors
var (
	ErrNotFound         = errors.New("entity not found")
	ErrDuplicateKey     = errors.New("duplicate key violation")
	ErrOptimisticLock   = errors.New("optimistic lock failure")
	ErrConnectionClosed = errors.New("database connection closed")
)

// Unique constraints of the event table
const (
	constraintEventVersion     = "risk_events_version_key"
	constraintEventTransaction = "risk_events_transaction_key"
)

// IsDuplicateKeyViolation checks if the error is a unique constraint violation
func IsDuplicateKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsNotFound checks if the error indicates a record was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// IsConnectionError checks if the error is related to database connectivity
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 connection exceptions, 57P0x server shutting down
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}

	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "closed pool")
}

// WrapRepositoryError maps database errors onto the domain error taxonomy:
// missing rows become not found, clashing writes become conflicts and
// connectivity problems become retryable transport errors.
func WrapRepositoryError(err error, resource string) error {
	if err == nil {
		return nil
	}

	if IsNotFound(err) {
		return domainerrors.NewNotFoundError(resource).WithCause(ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == constraintEventTransaction:
			return domainerrors.NewConflictError(domainerrors.CodeDuplicateEvent,
				"transaction already recorded").WithCause(ErrDuplicateKey)
		case pgErr.Code == "23505":
			return domainerrors.NewConflictError(domainerrors.CodeVersionConflict,
				resource+" was modified concurrently").WithCause(ErrOptimisticLock)
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return domainerrors.NewConflictError(domainerrors.CodeVersionConflict,
				resource+" write was serialized out").WithCause(err)
		}
	}

	if IsConnectionError(err) {
		return domainerrors.NewTransportError("postgres", err.Error()).WithCause(err)
	}

	if pgErr != nil {
		return domainerrors.NewInternalError(resource + " query failed").WithCause(err)
	}
	return domainerrors.NewTransportError("postgres", err.Error()).WithCause(err)
}

func versionConflict(resource string) error {
	return domainerrors.NewConflictError(domainerrors.CodeVersionConflict,
		resource+" was modified concurrently").WithCause(ErrOptimisticLock)
}
