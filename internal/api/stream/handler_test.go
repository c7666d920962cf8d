package stream

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/events"
	"github.com/davidleathers/risk-scoring-engine/internal/service/orchestrator"
	"github.com/davidleathers/risk-scoring-engine/internal/service/scoring"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Process(ctx context.Context, tc *risk.TransactionContext) (*orchestrator.Outcome, error) {
	args := m.Called(ctx, tc)
	if out := args.Get(0); out != nil {
		return out.(*orchestrator.Outcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) GetProfile(ctx context.Context, customerID string) (*orchestrator.ProfileView, error) {
	args := m.Called(ctx, customerID)
	return nil, args.Error(1)
}

func (m *mockService) RecentEvents(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error) {
	args := m.Called(ctx, customerID, limit)
	return nil, args.Error(1)
}

func (m *mockService) EventsSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error) {
	args := m.Called(ctx, customerID, afterVersion)
	return nil, args.Error(1)
}

func (m *mockService) QueryAnomalies(ctx context.Context, q anomaly.Query) ([]anomaly.Anomaly, error) {
	args := m.Called(ctx, q)
	return nil, args.Error(1)
}

const validatedEvent = `{
	"eventId": "evt-77",
	"eventType": "TRANSACTION_VALIDATED",
	"transactionId": "txn-77",
	"customerId": "cust-9",
	"amount": 1250.50,
	"currency": "EUR",
	"merchant": "Electronics Store",
	"merchantCategory": "electronics",
	"location": {"country": "DE", "city": "Berlin", "ip": "203.0.113.10"},
	"timestamp": "2026-03-02T10:15:00Z",
	"channel": "WEB",
	"device": "ios-app",
	"correlationId": "corr-abc",
	"velocityData": {"transactionsInLastHour": 4, "transactionsInLastDay": 11}
}`

func TestHandler_ProcessesValidatedTransactions(t *testing.T) {
	svc := &mockService{}
	h := NewHandler(svc, zaptest.NewLogger(t))

	svc.On("Process", mock.Anything, mock.MatchedBy(func(tc *risk.TransactionContext) bool {
		return tc.TransactionID == "txn-77" &&
			tc.CustomerID == "cust-9" &&
			tc.Amount.Equal(decimal.RequireFromString("1250.50")) &&
			tc.Currency == "EUR" &&
			tc.MerchantCategory == "electronics" &&
			tc.Location.City == "Berlin" &&
			tc.Timestamp.Equal(time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)) &&
			tc.Channel == "WEB" &&
			tc.CorrelationID == "corr-abc" &&
			tc.Velocity.TransactionsInLastDay == 11 &&
			tc.Customer == nil
	})).Return(&orchestrator.Outcome{Assessment: &risk.Assessment{Score: 42}}, nil)

	msg := events.Message{ID: "1-0", Topic: "transaction-validated", Payload: []byte(validatedEvent)}
	require.NoError(t, h.Handle(context.Background(), msg))
	svc.AssertExpectations(t)
}

func TestHandler_CarriesReportedMerchantCategory(t *testing.T) {
	svc := &mockService{}
	h := NewHandler(svc, zaptest.NewLogger(t))

	var got *risk.TransactionContext
	svc.On("Process", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*risk.TransactionContext) }).
		Return(&orchestrator.Outcome{Assessment: &risk.Assessment{Score: 10}}, nil)

	payload := `{
		"eventId": "evt-78",
		"transactionId": "txn-78",
		"customerId": "cust-9",
		"amount": 80,
		"merchant": "m-8842",
		"merchantCategory": "Gambling",
		"location": {"country": "DE", "city": "Berlin"},
		"timestamp": "2026-03-02T11:00:00Z"
	}`
	require.NoError(t, h.Handle(context.Background(), events.Message{ID: "2-0", Payload: []byte(payload)}))

	require.NotNil(t, got)
	assert.Equal(t, "m-8842", got.Merchant)
	assert.Equal(t, "Gambling", got.MerchantCategory)
	assert.Nil(t, got.MerchantProfile)
	assert.Equal(t, 10, scoring.MerchantScorer{}.Score(got))
}

func TestHandler_MalformedPayloadIsRejected(t *testing.T) {
	svc := &mockService{}
	h := NewHandler(svc, zaptest.NewLogger(t))

	err := h.Handle(context.Background(), events.Message{ID: "1-0", Payload: []byte(`{"amount": "lots"`)})
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
	svc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestHandler_PropagatesProcessingErrors(t *testing.T) {
	svc := &mockService{}
	h := NewHandler(svc, zaptest.NewLogger(t))

	svc.On("Process", mock.Anything, mock.Anything).
		Return(nil, errors.NewTransportError("postgres", "connection refused"))

	err := h.Handle(context.Background(), events.Message{ID: "1-0", Payload: []byte(validatedEvent)})
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}
