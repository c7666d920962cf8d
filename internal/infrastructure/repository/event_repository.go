package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/querybuilder"
)

const eventResource = "risk event"

// EventRepository is the append-only log of risk events
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Append stores e when it directly follows the customer's current head.
func (r *EventRepository) Append(ctx context.Context, e *riskevent.Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return domainerrors.NewInternalError("failed to serialize event data").WithCause(err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return domainerrors.NewInternalError("failed to serialize event metadata").WithCause(err)
	}

	query := `
		INSERT INTO risk_events (
			id, aggregate_id, aggregate_type, event_type, event_version,
			transaction_id, event_data, metadata, occurred_at
		)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::bigint,
			$6::text, $7::jsonb, $8::jsonb, $9::timestamptz
		WHERE (
			SELECT COALESCE(MAX(event_version), 0) FROM risk_events WHERE aggregate_id = $2::text
		) = $5::bigint - 1`

	tag, err := r.db.Exec(ctx, query,
		e.ID, e.AggregateID, e.AggregateType, e.EventType, e.EventVersion,
		e.TransactionID, data, meta, e.Timestamp)
	if err != nil {
		return WrapRepositoryError(err, eventResource)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var recorded bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM risk_events WHERE aggregate_id = $1 AND transaction_id = $2)`,
		e.AggregateID, e.TransactionID).Scan(&recorded)
	if err != nil {
		return WrapRepositoryError(err, eventResource)
	}
	if recorded {
		return domainerrors.NewConflictError(domainerrors.CodeDuplicateEvent, "transaction already recorded").
			WithCause(ErrDuplicateKey)
	}
	return versionConflict("risk event stream")
}

// Head returns the latest event version of the customer, 0 when none
func (r *EventRepository) Head(ctx context.Context, customerID string) (int64, error) {
	var head int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(event_version), 0) FROM risk_events WHERE aggregate_id = $1`,
		customerID).Scan(&head)
	if err != nil {
		return 0, WrapRepositoryError(err, eventResource)
	}
	return head, nil
}

// GetByTransaction returns the event recorded for a transaction
func (r *EventRepository) GetByTransaction(ctx context.Context, customerID, transactionID string) (*riskevent.Entry, error) {
	query, args, err := querybuilder.New().
		Select(querybuilder.EventColumns...).
		From(querybuilder.EventsTable).
		WhereEqual("aggregate_id", customerID).
		WhereEqual("transaction_id", transactionID).
		ToSQL()
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to build event query").WithCause(err)
	}

	e, err := scanEvent(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, WrapRepositoryError(err, eventResource)
	}
	return e, nil
}

// ListSince returns the customer's events after afterVersion, oldest first
func (r *EventRepository) ListSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error) {
	return r.list(ctx, querybuilder.NewEventsSinceQuery(customerID, afterVersion))
}

// Recent returns up to limit of the customer's latest events, newest first
func (r *EventRepository) Recent(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error) {
	return r.list(ctx, querybuilder.NewRecentEventsQuery(customerID, limit))
}

func (r *EventRepository) list(ctx context.Context, qb *querybuilder.QueryBuilder) ([]riskevent.Entry, error) {
	query, args, err := qb.ToSQL()
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to build event query").WithCause(err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapRepositoryError(err, eventResource)
	}
	defer rows.Close()

	var out []riskevent.Entry
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, WrapRepositoryError(err, eventResource)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapRepositoryError(err, eventResource)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (*riskevent.Entry, error) {
	var e riskevent.Entry
	var data, meta []byte
	err := row.Scan(
		&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.EventVersion,
		&e.TransactionID, &data, &meta, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return nil, domainerrors.NewInternalError("stored event data is unreadable").WithCause(err)
	}
	if err := json.Unmarshal(meta, &e.Metadata); err != nil {
		return nil, domainerrors.NewInternalError("stored event metadata is unreadable").WithCause(err)
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
