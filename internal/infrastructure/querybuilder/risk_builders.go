package querybuilder

import (
	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
)

// Tables of the risk schema
const (
	ProfilesTable  = "customer_risk_profiles"
	EventsTable    = "risk_events"
	AnomaliesTable = "anomalies"
	MerchantsTable = "merchants"
)

// EventColumns are selected for every event row
var EventColumns = []string{
	"id", "aggregate_id", "aggregate_type", "event_type", "event_version",
	"transaction_id", "event_data", "metadata", "occurred_at",
}

// AnomalyColumns are selected for every anomaly row
var AnomalyColumns = []string{
	"id", "customer_id", "transaction_id", "anomaly_type", "severity",
	"description", "detected_at", "status", "details",
}

// NewAnomalyQuery selects the anomalies matching q, newest first
func NewAnomalyQuery(q anomaly.Query) *QueryBuilder {
	qb := New().Select(AnomalyColumns...).From(AnomaliesTable)
	if q.CustomerID != "" {
		qb.WhereEqual("customer_id", q.CustomerID)
	}
	if q.Type != "" {
		qb.WhereEqual("anomaly_type", string(q.Type))
	}
	if q.Severity != "" {
		qb.WhereEqual("severity", string(q.Severity))
	}
	if q.Status != "" {
		qb.WhereEqual("status", string(q.Status))
	}
	if !q.From.IsZero() {
		qb.Where("detected_at", GreaterThanOrEqual, q.From)
	}
	if !q.To.IsZero() {
		qb.Where("detected_at", LessThanOrEqual, q.To)
	}
	return qb.OrderByDesc("detected_at").OrderByAsc("id").Limit(q.EffectiveLimit())
}

// NewEventsSinceQuery selects a customer's events after a version, oldest first
func NewEventsSinceQuery(customerID string, afterVersion int64) *QueryBuilder {
	return New().Select(EventColumns...).From(EventsTable).
		WhereEqual("aggregate_id", customerID).
		Where("event_version", GreaterThan, afterVersion).
		OrderByAsc("event_version")
}

// NewRecentEventsQuery selects a customer's latest events, newest first
func NewRecentEventsQuery(customerID string, limit int) *QueryBuilder {
	return New().Select(EventColumns...).From(EventsTable).
		WhereEqual("aggregate_id", customerID).
		OrderByDesc("event_version").
		Limit(limit)
}

// NewAnomalyInsert inserts a, leaving an existing id untouched
func NewAnomalyInsert(a anomaly.Anomaly, details []byte) *QueryBuilder {
	return New().Insert(AnomaliesTable).
		Set("id", a.ID).
		Set("customer_id", a.CustomerID).
		Set("transaction_id", a.TransactionID).
		Set("anomaly_type", string(a.Type)).
		Set("severity", string(a.Severity)).
		Set("description", a.Description).
		Set("detected_at", a.DetectedAt).
		Set("status", string(a.Status)).
		Set("details", details).
		OnConflictDoNothing("id")
}
