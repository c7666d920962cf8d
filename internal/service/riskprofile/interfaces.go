package riskprofile

import (
	"context"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
)

// ProfileRepository stores the current projection of each customer profile
type ProfileRepository interface {
	// Get returns the stored profile or a not found error
	Get(ctx context.Context, customerID string) (*profile.Profile, error)

	// Save writes p when the stored version equals expectedVersion. An
	// expectedVersion of 0 means the profile must not exist yet. A mismatch
	// returns a VERSION_CONFLICT conflict error.
	Save(ctx context.Context, p *profile.Profile, expectedVersion int64) error

	// Advance moves the event cursor of the profile stored at version
	// forward to eventVersion without creating a new version. A profile that
	// has moved on, or whose cursor is already there, is left alone.
	Advance(ctx context.Context, customerID string, version, eventVersion int64) error
}

// EventStore is the append-only log of risk events, one stream per customer
type EventStore interface {
	// Append records e when e.EventVersion is exactly one past the stream
	// head. A clash on the version returns VERSION_CONFLICT, a second event
	// for the same transaction returns DUPLICATE_EVENT.
	Append(ctx context.Context, e *riskevent.Entry) error

	// Head returns the latest event version for the customer, 0 when empty
	Head(ctx context.Context, customerID string) (int64, error)

	// GetByTransaction returns the event recorded for a transaction
	GetByTransaction(ctx context.Context, customerID, transactionID string) (*riskevent.Entry, error)

	// ListSince returns events with a version above afterVersion, oldest first
	ListSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error)

	// Recent returns up to limit events, newest first
	Recent(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error)
}
