package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/querybuilder"
)

const anomalyResource = "anomaly"

// AnomalyRepository persists detected anomalies
type AnomalyRepository struct {
	db *pgxpool.Pool
}

// NewAnomalyRepository creates a new anomaly repository
func NewAnomalyRepository(db *pgxpool.Pool) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

// SaveBatch stores anomalies in one transaction. Ids that already exist are
// left untouched so redelivered transactions do not duplicate records.
func (r *AnomalyRepository) SaveBatch(ctx context.Context, batch []anomaly.Anomaly) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, a := range batch {
		details, err := json.Marshal(a.Details)
		if err != nil {
			return domainerrors.NewInternalError("failed to serialize anomaly details").WithCause(err)
		}
		query, args, err := querybuilder.NewAnomalyInsert(a, details).ToSQL()
		if err != nil {
			return domainerrors.NewInternalError("failed to build anomaly insert").WithCause(err)
		}
		b.Queue(query, args...)
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return WrapRepositoryError(err, anomalyResource)
	}
	return nil
}

// Query returns the anomalies matching q, newest first
func (r *AnomalyRepository) Query(ctx context.Context, q anomaly.Query) ([]anomaly.Anomaly, error) {
	query, args, err := querybuilder.NewAnomalyQuery(q).ToSQL()
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to build anomaly query").WithCause(err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapRepositoryError(err, anomalyResource)
	}
	defer rows.Close()

	var out []anomaly.Anomaly
	for rows.Next() {
		var (
			a                     anomaly.Anomaly
			typ, severity, status string
			details               []byte
		)
		err := rows.Scan(&a.ID, &a.CustomerID, &a.TransactionID, &typ, &severity,
			&a.Description, &a.DetectedAt, &status, &details)
		if err != nil {
			return nil, WrapRepositoryError(err, anomalyResource)
		}
		a.Type = anomaly.Type(typ)
		a.Severity = risk.Severity(severity)
		a.Status = anomaly.Status(status)
		a.DetectedAt = a.DetectedAt.UTC()
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, domainerrors.NewInternalError("stored anomaly details are unreadable").WithCause(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapRepositoryError(err, anomalyResource)
	}
	return out, nil
}
