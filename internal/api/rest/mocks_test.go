package rest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
	"github.com/davidleathers/risk-scoring-engine/internal/service/orchestrator"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Process(ctx context.Context, tc *risk.TransactionContext) (*orchestrator.Outcome, error) {
	args := m.Called(ctx, tc)
	out, _ := args.Get(0).(*orchestrator.Outcome)
	return out, args.Error(1)
}

func (m *mockService) GetProfile(ctx context.Context, customerID string) (*orchestrator.ProfileView, error) {
	args := m.Called(ctx, customerID)
	view, _ := args.Get(0).(*orchestrator.ProfileView)
	return view, args.Error(1)
}

func (m *mockService) RecentEvents(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error) {
	args := m.Called(ctx, customerID, limit)
	entries, _ := args.Get(0).([]riskevent.Entry)
	return entries, args.Error(1)
}

func (m *mockService) EventsSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error) {
	args := m.Called(ctx, customerID, afterVersion)
	entries, _ := args.Get(0).([]riskevent.Entry)
	return entries, args.Error(1)
}

func (m *mockService) QueryAnomalies(ctx context.Context, q anomaly.Query) ([]anomaly.Anomaly, error) {
	args := m.Called(ctx, q)
	found, _ := args.Get(0).([]anomaly.Anomaly)
	return found, args.Error(1)
}
