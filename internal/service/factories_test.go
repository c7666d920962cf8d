package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/config"
)

func sampleTransaction(id string) *risk.TransactionContext {
	return &risk.TransactionContext{
		TransactionID: id,
		CustomerID:    "cust-42",
		Amount:        decimal.NewFromInt(120),
		Currency:      "USD",
		Merchant:      "Corner Grocery",
		Location:      &risk.Location{Country: "US", City: "New York"},
		Timestamp:     time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC),
	}
}

func TestBuild_MemoryDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.VelocityTracking = false

	c, err := Build(context.Background(), cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Pool)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Consumer)
	require.NotNil(t, c.MemoryBus)

	out, err := c.Service.Process(context.Background(), sampleTransaction("txn-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.EventVersion)
	assert.Len(t, c.MemoryBus.Messages(cfg.Bus.ScoreStream), 1)

	view, err := c.Service.GetProfile(context.Background(), "cust-42")
	require.NoError(t, err)
	assert.Equal(t, out.Assessment.Score, view.CurrentScore)
}

func TestBuild_RedisBus(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Defaults()
	cfg.Redis.URL = mr.Addr()
	cfg.Bus.Enabled = true

	c, err := Build(context.Background(), cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Redis)
	require.NotNil(t, c.Consumer)
	assert.Nil(t, c.MemoryBus)

	_, err = c.Service.Process(context.Background(), sampleTransaction("txn-1"))
	require.NoError(t, err)

	n, err := c.Redis.XLen(context.Background(), cfg.Bus.ScoreStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBuild_UnknownDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = "cassandra"

	_, err := Build(context.Background(), cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewScorer(t *testing.T) {
	agg, err := NewScorer(map[string]float64{"merchant": 0.5}, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, ws := range agg.Scorers() {
		if ws.Scorer.Factor() == risk.FactorMerchant {
			assert.Equal(t, 0.5, ws.Weight)
		}
	}

	_, err = NewScorer(map[string]float64{"horoscope": 0.1}, nil)
	assert.Error(t, err)

	_, err = NewScorer(map[string]float64{"velocity": -1}, nil)
	assert.Error(t, err)
}
