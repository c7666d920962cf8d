package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

const merchantResource = "merchant"

// MerchantRepository resolves merchants from the registry table
type MerchantRepository struct {
	db *pgxpool.Pool
}

// NewMerchantRepository creates a new merchant repository
func NewMerchantRepository(db *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{db: db}
}

func merchantKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Lookup returns a registered merchant. Identifiers match case-insensitively.
func (r *MerchantRepository) Lookup(ctx context.Context, merchantID string) (*risk.MerchantProfile, error) {
	query := `
		SELECT id, name, category, country, chargeback_rate, registered_at
		FROM merchants
		WHERE id = $1`

	var m risk.MerchantProfile
	err := r.db.QueryRow(ctx, query, merchantKey(merchantID)).Scan(
		&m.ID, &m.Name, &m.Category, &m.Country, &m.ChargebackRate, &m.RegisteredAt,
	)
	if err != nil {
		return nil, WrapRepositoryError(err, merchantResource)
	}
	m.RegisteredAt = m.RegisteredAt.UTC()
	return &m, nil
}

// Register adds or replaces a merchant
func (r *MerchantRepository) Register(ctx context.Context, m risk.MerchantProfile) error {
	query := `
		INSERT INTO merchants (id, name, category, country, chargeback_rate, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			country = EXCLUDED.country,
			chargeback_rate = EXCLUDED.chargeback_rate,
			registered_at = EXCLUDED.registered_at`

	_, err := r.db.Exec(ctx, query,
		merchantKey(m.ID), m.Name, m.Category, m.Country, m.ChargebackRate, m.RegisteredAt)
	if err != nil {
		return WrapRepositoryError(err, merchantResource)
	}
	return nil
}
