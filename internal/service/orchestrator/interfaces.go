package orchestrator

import (
	"context"
	"time"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
)

// Service processes transactions end to end and answers the read side
type Service interface {
	// Process scores one transaction, records it and publishes the outcome.
	// Processing the same transaction again replays the recorded outcome.
	Process(ctx context.Context, tc *risk.TransactionContext) (*Outcome, error)
	// GetProfile returns the customer's risk profile view
	GetProfile(ctx context.Context, customerID string) (*ProfileView, error)
	// RecentEvents returns the customer's latest events, newest first
	RecentEvents(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error)
	// EventsSince returns the customer's events after a stream version, oldest first
	EventsSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error)
	// QueryAnomalies filters detected anomalies
	QueryAnomalies(ctx context.Context, q anomaly.Query) ([]anomaly.Anomaly, error)
}

// AnomalyRepository stores detected anomalies
type AnomalyRepository interface {
	// SaveBatch stores anomalies; ids already stored are left untouched
	SaveBatch(ctx context.Context, batch []anomaly.Anomaly) error
	// Query returns matching anomalies, newest first
	Query(ctx context.Context, q anomaly.Query) ([]anomaly.Anomaly, error)
}

// EventReader is the read side of the event store
type EventReader interface {
	ListSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error)
	Recent(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error)
}

// MerchantRegistry resolves merchant records
type MerchantRegistry interface {
	// Lookup returns a not found error for unregistered merchants
	Lookup(ctx context.Context, merchantID string) (*risk.MerchantProfile, error)
}

// VelocityTracker counts a customer's recent transactions
type VelocityTracker interface {
	Record(ctx context.Context, customerID, transactionID string, at time.Time) (risk.VelocitySnapshot, error)
}

// Locker serializes work on one customer across engine instances
type Locker interface {
	// Acquire blocks until the lock is held; the returned func releases it
	Acquire(ctx context.Context, customerID string) (func(), error)
}
