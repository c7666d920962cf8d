package stream

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/events"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/risk-scoring-engine/internal/service/orchestrator"
)

// TransactionValidated is the inbound event published once a transaction
// passed validation upstream.
type TransactionValidated struct {
	EventID          string                 `json:"eventId"`
	EventType        string                 `json:"eventType,omitempty"`
	EventTimestamp   *time.Time             `json:"eventTimestamp,omitempty"`
	TransactionID    string                 `json:"transactionId"`
	CustomerID       string                 `json:"customerId"`
	Amount           decimal.Decimal        `json:"amount"`
	Currency         string                 `json:"currency,omitempty"`
	Merchant         string                 `json:"merchant"`
	MerchantCategory string                 `json:"merchantCategory,omitempty"`
	Location         *risk.Location         `json:"location"`
	Timestamp        time.Time              `json:"timestamp"`
	Channel          string                 `json:"channel,omitempty"`
	Device           string                 `json:"device,omitempty"`
	CorrelationID    string                 `json:"correlationId,omitempty"`
	CustomerProfile  *risk.CustomerSnapshot `json:"customerProfile,omitempty"`
	VelocityData     *risk.VelocitySnapshot `json:"velocityData,omitempty"`
}

// Context converts the event into the scoring input
func (e *TransactionValidated) Context() *risk.TransactionContext {
	return &risk.TransactionContext{
		TransactionID:    e.TransactionID,
		CustomerID:       e.CustomerID,
		Amount:           e.Amount,
		Currency:         e.Currency,
		Merchant:         e.Merchant,
		MerchantCategory: e.MerchantCategory,
		Location:         e.Location,
		Timestamp:        e.Timestamp,
		Channel:          e.Channel,
		Device:           e.Device,
		CorrelationID:    e.CorrelationID,
		Customer:         e.CustomerProfile,
		Velocity:         e.VelocityData,
	}
}

// Handler feeds transaction-validated messages to the orchestrator
type Handler struct {
	svc    orchestrator.Service
	logger *zap.Logger
}

// NewHandler creates the inbound message handler
func NewHandler(svc orchestrator.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Handle processes one message. Malformed and invalid transactions fail
// with validation errors, which the consumer dead letters; storage and bus
// failures are retryable and leave the message pending.
func (h *Handler) Handle(ctx context.Context, msg events.Message) error {
	var evt TransactionValidated
	if err := msg.Decode(&evt); err != nil {
		return err
	}

	log := telemetry.WithTrace(ctx, h.logger).With(
		zap.String("message_id", msg.ID),
		zap.String("event_id", evt.EventID),
		zap.String("transaction_id", evt.TransactionID),
		zap.String("customer_id", evt.CustomerID))

	out, err := h.svc.Process(ctx, evt.Context())
	if err != nil {
		log.Warn("transaction-validated event failed", zap.Error(err))
		return err
	}

	log.Debug("transaction-validated event processed",
		zap.Int("risk_score", out.Assessment.Score),
		zap.Bool("replayed", out.Replayed))
	return nil
}
