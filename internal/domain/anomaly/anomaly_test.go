package anomaly

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

func assessment(f risk.FactorScores) *risk.Assessment {
	return &risk.Assessment{
		TransactionID: "txn-42",
		CustomerID:    "cust-7",
		Score:         61,
		Level:         risk.LevelHigh,
		Factors:       f,
		Timestamp:     time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		factors  risk.FactorScores
		expected map[Type]risk.Severity
	}{
		{
			name:     "nothing anomalous",
			factors:  risk.FactorScores{Transaction: 20, Velocity: 14, Geographic: 12, Merchant: 6},
			expected: map[Type]risk.Severity{},
		},
		{
			name:     "impossible travel",
			factors:  risk.FactorScores{Geographic: 15},
			expected: map[Type]risk.Severity{TypeImpossibleTravel: risk.SeverityHigh},
		},
		{
			name:     "medium velocity spike",
			factors:  risk.FactorScores{Velocity: 15},
			expected: map[Type]risk.Severity{TypeVelocitySpike: risk.SeverityMedium},
		},
		{
			name:     "high velocity spike",
			factors:  risk.FactorScores{Velocity: 20},
			expected: map[Type]risk.Severity{TypeVelocitySpike: risk.SeverityHigh},
		},
		{
			name:    "every detector fires",
			factors: risk.FactorScores{Transaction: 38, Velocity: 20, Geographic: 15, Merchant: 10},
			expected: map[Type]risk.Severity{
				TypeImpossibleTravel: risk.SeverityHigh,
				TypeVelocitySpike:    risk.SeverityHigh,
				TypeAmountDeviation:  risk.SeverityHigh,
				TypeUnusualMerchant:  risk.SeverityHigh,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := assessment(tt.factors)
			found := Detect(a)

			got := make(map[Type]risk.Severity, len(found))
			for _, an := range found {
				got[an.Type] = an.Severity
				assert.Equal(t, "cust-7", an.CustomerID)
				assert.Equal(t, "txn-42", an.TransactionID)
				assert.Equal(t, StatusOpen, an.Status)
				assert.Equal(t, a.Timestamp, an.DetectedAt)
				assert.Equal(t, tt.factors, an.Details.Factors)
				assert.Equal(t, 61, an.Details.Score)
				assert.Equal(t, risk.LevelHigh, an.Details.Level)
				assert.Equal(t, ID("txn-42", an.Type), an.ID)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDetect_VelocitySeverityBoundary(t *testing.T) {
	property := func(v uint8) bool {
		velocity := int(v % 40)
		found := Detect(assessment(risk.FactorScores{Velocity: velocity}))

		switch {
		case velocity >= 20:
			return len(found) == 1 && found[0].Severity == risk.SeverityHigh
		case velocity >= 15:
			return len(found) == 1 && found[0].Severity == risk.SeverityMedium
		default:
			return len(found) == 0
		}
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 500}))
}

func TestID_Deterministic(t *testing.T) {
	assert.Equal(t, ID("txn-1", TypeVelocitySpike), ID("txn-1", TypeVelocitySpike))
	assert.NotEqual(t, ID("txn-1", TypeVelocitySpike), ID("txn-1", TypeAmountDeviation))
	assert.NotEqual(t, ID("txn-1", TypeVelocitySpike), ID("txn-2", TypeVelocitySpike))
}

func TestDetect_Nil(t *testing.T) {
	assert.Nil(t, Detect(nil))
}

func TestQuery_Matches(t *testing.T) {
	at := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	a := Anomaly{
		CustomerID: "cust-7",
		Type:       TypeVelocitySpike,
		Severity:   risk.SeverityMedium,
		Status:     StatusOpen,
		DetectedAt: at,
	}

	assert.True(t, Query{}.Matches(a))
	assert.True(t, Query{CustomerID: "cust-7", Type: TypeVelocitySpike}.Matches(a))
	assert.False(t, Query{CustomerID: "cust-8"}.Matches(a))
	assert.False(t, Query{Severity: risk.SeverityHigh}.Matches(a))
	assert.True(t, Query{From: at.Add(-time.Hour), To: at.Add(time.Hour)}.Matches(a))
	assert.False(t, Query{From: at.Add(time.Minute)}.Matches(a))
	assert.False(t, Query{To: at.Add(-time.Minute)}.Matches(a))

	assert.Equal(t, DefaultQueryLimit, Query{}.EffectiveLimit())
	assert.Equal(t, 5, Query{Limit: 5}.EffectiveLimit())
}
