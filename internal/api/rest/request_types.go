package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
)

// CalculateRequest asks for a synchronous risk assessment
type CalculateRequest struct {
	TransactionID    string                 `json:"transactionId" validate:"required,max=128"`
	CustomerID       string                 `json:"customerId" validate:"required,max=128"`
	Amount           decimal.Decimal        `json:"amount"`
	Currency         string                 `json:"currency,omitempty" validate:"omitempty,len=3"`
	Merchant         string                 `json:"merchant" validate:"required"`
	MerchantCategory string                 `json:"merchantCategory,omitempty"`
	Location         *risk.Location         `json:"location" validate:"required"`
	Timestamp        time.Time              `json:"timestamp" validate:"required"`
	Channel          string                 `json:"channel,omitempty"`
	Device           string                 `json:"device,omitempty"`
	CorrelationID    string                 `json:"correlationId,omitempty"`
	CustomerProfile  *risk.CustomerSnapshot `json:"customerProfile,omitempty"`
	VelocityData     *risk.VelocitySnapshot `json:"velocityData,omitempty"`
}

// Context converts the request into the scoring input
func (r *CalculateRequest) Context() *risk.TransactionContext {
	return &risk.TransactionContext{
		TransactionID:    r.TransactionID,
		CustomerID:       r.CustomerID,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Merchant:         r.Merchant,
		MerchantCategory: r.MerchantCategory,
		Location:         r.Location,
		Timestamp:        r.Timestamp.UTC(),
		Channel:          r.Channel,
		Device:           r.Device,
		CorrelationID:    r.CorrelationID,
		Customer:         r.CustomerProfile,
		Velocity:         r.VelocityData,
	}
}

// EventsResponse lists a customer's recorded events
type EventsResponse struct {
	CustomerID  string            `json:"customerId"`
	Events      []riskevent.Entry `json:"events"`
	TotalEvents int               `json:"totalEvents"`
}

// AnomaliesResponse lists anomalies matching a query
type AnomaliesResponse struct {
	Anomalies      []anomaly.Anomaly `json:"anomalies"`
	TotalAnomalies int               `json:"totalAnomalies"`
	TimeWindow     string            `json:"timeWindow"`
}

// timeWindow renders a query window as an ISO 8601 interval with ".." for
// open ends.
func timeWindow(from, to time.Time) string {
	start, end := "..", ".."
	if !from.IsZero() {
		start = from.UTC().Format(time.RFC3339)
	}
	if !to.IsZero() {
		end = to.UTC().Format(time.RFC3339)
	}
	return start + "/" + end
}
