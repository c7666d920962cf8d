package risk

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score    int
		expected Level
	}{
		{-5, LevelLow},
		{0, LevelLow},
		{20, LevelLow},
		{21, LevelMedium},
		{50, LevelMedium},
		{51, LevelHigh},
		{75, LevelHigh},
		{76, LevelCritical},
		{100, LevelCritical},
		{140, LevelCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelForScore(tt.score), "score %d", tt.score)
	}
}

func TestDecisionForLevel(t *testing.T) {
	assert.Equal(t, DecisionAllow, DecisionForLevel(LevelLow))
	assert.Equal(t, DecisionMonitor, DecisionForLevel(LevelMedium))
	assert.Equal(t, DecisionManualReview, DecisionForLevel(LevelHigh))
	assert.Equal(t, DecisionBlock, DecisionForLevel(LevelCritical))
}

func TestApprovalConfidence(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		expected float64
	}{
		{"zero score", 0, 1.0},
		{"top of low band", 20, 0.9},
		{"bottom of medium band", 21, 0.9 - 1.0/300},
		{"top of medium band", 50, 0.8},
		{"top of high band", 75, 0.65},
		{"bottom of critical band", 76, 0.4 - 1.0/625},
		{"max score", 100, 0.36},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ApprovalConfidence(tt.score), 1e-9)
		})
	}
}

func TestPolicy_Properties(t *testing.T) {
	t.Run("confidence always within unit interval", func(t *testing.T) {
		property := func(score int) bool {
			c := ApprovalConfidence(score)
			return c >= 0 && c <= 1
		}
		require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 2000}))
	})

	t.Run("assessment score is clamped and consistent", func(t *testing.T) {
		property := func(score int) bool {
			a := NewAssessment(&TransactionContext{TransactionID: "t", CustomerID: "c"}, score, FactorScores{}, time.Unix(0, 0))
			return a.Score >= MinScore && a.Score <= MaxScore &&
				a.Level == LevelForScore(a.Score) &&
				a.Decision == DecisionForLevel(a.Level) &&
				a.Details.ManualReviewRequired == (a.Decision == DecisionManualReview)
		}
		require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 2000}))
	})
}

func TestFlagsFor(t *testing.T) {
	tests := []struct {
		name     string
		factors  FactorScores
		expected []string
	}{
		{
			name:     "quiet transaction has no flags",
			factors:  FactorScores{Transaction: 10, Behavior: 0, Velocity: 8, Geographic: 10, Merchant: 4},
			expected: []string{},
		},
		{
			name:     "all flags in fixed order",
			factors:  FactorScores{Transaction: 30, Behavior: 25, Velocity: 15, Geographic: 12, Merchant: 6},
			expected: []string{"GEOGRAPHIC_ANOMALY", "HIGH_VELOCITY", "HIGH_AMOUNT", "CUSTOMER_BEHAVIOR_RISK", "MERCHANT_RISK"},
		},
		{
			name:     "amount flag is high severity",
			factors:  FactorScores{Transaction: 38},
			expected: []string{"HIGH_AMOUNT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := FlagsFor(tt.factors)
			names := make([]string, 0, len(flags))
			for _, f := range flags {
				names = append(names, f.Flag)
			}
			assert.Equal(t, tt.expected, names)
		})
	}

	flags := FlagsFor(FactorScores{Transaction: 38})
	require.Len(t, flags, 1)
	assert.Equal(t, SeverityHigh, flags[0].Severity)
}

func TestNewAssessment(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tc := &TransactionContext{
		TransactionID: "txn-1",
		CustomerID:    "cust-1",
		Amount:        decimal.NewFromInt(250),
	}

	a := NewAssessment(tc, 55, FactorScores{Transaction: 30}, at)

	assert.Equal(t, "txn-1", a.TransactionID)
	assert.Equal(t, "cust-1", a.CustomerID)
	assert.Equal(t, 55, a.Score)
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, DecisionManualReview, a.Decision)
	assert.True(t, a.Details.ManualReviewRequired)
	assert.InDelta(t, 0.69, a.Details.ApprovalConfidence, 1e-9)
	assert.True(t, a.Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, at, a.Timestamp)
	assert.Len(t, a.Flags, 1)
}

func TestFactorScores_SetGet(t *testing.T) {
	var fs FactorScores
	for i, f := range []Factor{FactorTransaction, FactorBehavior, FactorVelocity, FactorGeographic, FactorMerchant} {
		fs.Set(f, i+1)
		assert.Equal(t, i+1, fs.Get(f))
	}
	assert.Equal(t, FactorScores{Transaction: 1, Behavior: 2, Velocity: 3, Geographic: 4, Merchant: 5}, fs)
}
