// Package repository holds the PostgreSQL implementations of the engine's
// stores.
package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups the stores sharing one pool
type Repositories struct {
	Profiles  *ProfileRepository
	Events    *EventRepository
	Anomalies *AnomalyRepository
	Merchants *MerchantRepository
}

// NewRepositories creates every repository on db
func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		Profiles:  NewProfileRepository(db),
		Events:    NewEventRepository(db),
		Anomalies: NewAnomalyRepository(db),
		Merchants: NewMerchantRepository(db),
	}
}
