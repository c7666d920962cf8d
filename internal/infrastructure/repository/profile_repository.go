package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
)

const profileResource = "customer risk profile"

// ProfileRepository stores the current version of each customer profile
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get retrieves a customer's profile
func (r *ProfileRepository) Get(ctx context.Context, customerID string) (*profile.Profile, error) {
	query := `SELECT profile, event_version FROM customer_risk_profiles WHERE customer_id = $1`

	var data []byte
	var eventVersion int64
	if err := r.db.QueryRow(ctx, query, customerID).Scan(&data, &eventVersion); err != nil {
		return nil, WrapRepositoryError(err, profileResource)
	}

	var p profile.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, domainerrors.NewInternalError("stored profile is unreadable").WithCause(err)
	}
	// the column is the cursor of record; Advance moves it in place
	p.EventVersion = eventVersion
	return &p, nil
}

// Save writes p when the stored version equals expectedVersion. An
// expectedVersion of 0 creates the profile.
func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile, expectedVersion int64) error {
	data, err := json.Marshal(p)
	if err != nil {
		return domainerrors.NewInternalError("failed to serialize profile").WithCause(err)
	}

	var tag pgconn.CommandTag
	if expectedVersion == 0 {
		query := `
			INSERT INTO customer_risk_profiles (
				customer_id, version, event_version, current_score, previous_score,
				risk_level, last_updated, updated_by, profile
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (customer_id) DO NOTHING`
		tag, err = r.db.Exec(ctx, query,
			p.CustomerID, p.Version, p.EventVersion, p.CurrentScore, p.PreviousScore,
			string(p.Level), p.LastUpdated, p.UpdatedBy, data)
	} else {
		query := `
			UPDATE customer_risk_profiles SET
				version = $2, event_version = $3, current_score = $4, previous_score = $5,
				risk_level = $6, last_updated = $7, updated_by = $8, profile = $9
			WHERE customer_id = $1 AND version = $10`
		tag, err = r.db.Exec(ctx, query,
			p.CustomerID, p.Version, p.EventVersion, p.CurrentScore, p.PreviousScore,
			string(p.Level), p.LastUpdated, p.UpdatedBy, data, expectedVersion)
	}
	if err != nil {
		return WrapRepositoryError(err, profileResource)
	}
	if tag.RowsAffected() == 0 {
		return versionConflict(profileResource)
	}
	return nil
}

// Advance moves the event cursor of the profile stored at version. Zero
// affected rows means another writer moved on and is not an error.
func (r *ProfileRepository) Advance(ctx context.Context, customerID string, version, eventVersion int64) error {
	query := `
		UPDATE customer_risk_profiles SET
			event_version = $3,
			profile = jsonb_set(profile, '{eventVersion}', to_jsonb($3::bigint))
		WHERE customer_id = $1 AND version = $2 AND event_version < $3`

	if _, err := r.db.Exec(ctx, query, customerID, version, eventVersion); err != nil {
		return WrapRepositoryError(err, profileResource)
	}
	return nil
}
