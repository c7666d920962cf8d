package risk

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinScore = 0
	MaxScore = 100
)

// ClampScore bounds a score to [MinScore, MaxScore]
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// LevelForScore maps a clamped score to its band:
// [0,20] LOW, (20,50] MEDIUM, (50,75] HIGH, (75,100] CRITICAL.
func LevelForScore(score int) Level {
	switch s := ClampScore(score); {
	case s <= 20:
		return LevelLow
	case s <= 50:
		return LevelMedium
	case s <= 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// DecisionForLevel maps a level to the automated decision
func DecisionForLevel(level Level) Decision {
	switch level {
	case LevelLow:
		return DecisionAllow
	case LevelMedium:
		return DecisionMonitor
	case LevelHigh:
		return DecisionManualReview
	default:
		return DecisionBlock
	}
}

// ApprovalConfidence returns the confidence in approving a transaction
// with the given score, always within [0,1].
func ApprovalConfidence(score int) float64 {
	s := float64(ClampScore(score))

	var c float64
	switch LevelForScore(score) {
	case LevelLow:
		c = 1 - s/200
	case LevelMedium:
		c = 0.9 - (s-20)/300
	case LevelHigh:
		c = 0.7 - (s-50)/500
	default:
		c = 0.4 - (s-75)/625
	}

	return math.Max(0, math.Min(1, c))
}

func decisionReason(level Level) string {
	switch level {
	case LevelLow:
		return "Low risk transaction, approved automatically"
	case LevelMedium:
		return "Medium risk transaction, approved with enhanced monitoring"
	case LevelHigh:
		return "High risk transaction, held for manual review"
	default:
		return "Critical risk transaction, blocked"
	}
}

// Flag thresholds, each strictly exceeded by the sub-score
const (
	geographicFlagThreshold = 10
	velocityFlagThreshold   = 10
	amountFlagThreshold     = 20
	behaviorFlagThreshold   = 20
	merchantFlagThreshold   = 5
)

// FlagsFor derives the ordered risk flags for a factor breakdown
func FlagsFor(f FactorScores) []RiskFlag {
	flags := make([]RiskFlag, 0, 5)

	if f.Geographic > geographicFlagThreshold {
		flags = append(flags, RiskFlag{
			Flag:        "GEOGRAPHIC_ANOMALY",
			Severity:    SeverityMedium,
			Description: "Transaction from location 500+ km away",
		})
	}
	if f.Velocity > velocityFlagThreshold {
		flags = append(flags, RiskFlag{
			Flag:        "HIGH_VELOCITY",
			Severity:    SeverityMedium,
			Description: "Transaction frequency above normal range",
		})
	}
	if f.Transaction > amountFlagThreshold {
		flags = append(flags, RiskFlag{
			Flag:        "HIGH_AMOUNT",
			Severity:    SeverityHigh,
			Description: "Transaction amount well above customer average",
		})
	}
	if f.Behavior > behaviorFlagThreshold {
		flags = append(flags, RiskFlag{
			Flag:        "CUSTOMER_BEHAVIOR_RISK",
			Severity:    SeverityHigh,
			Description: "Customer account shows elevated risk indicators",
		})
	}
	if f.Merchant > merchantFlagThreshold {
		flags = append(flags, RiskFlag{
			Flag:        "MERCHANT_RISK",
			Severity:    SeverityMedium,
			Description: "Merchant category or history carries elevated risk",
		})
	}

	return flags
}

// NewAssessment applies the decision policy to an aggregate score.
func NewAssessment(tc *TransactionContext, score int, factors FactorScores, at time.Time) *Assessment {
	score = ClampScore(score)
	level := LevelForScore(score)
	decision := DecisionForLevel(level)

	amount := decimal.Zero
	var txnID, customerID string
	if tc != nil {
		amount = tc.Amount
		txnID = tc.TransactionID
		customerID = tc.CustomerID
	}

	return &Assessment{
		TransactionID: txnID,
		CustomerID:    customerID,
		Score:         score,
		Level:         level,
		Decision:      decision,
		Details: DecisionDetails{
			Reason:               decisionReason(level),
			ManualReviewRequired: decision == DecisionManualReview,
			ApprovalConfidence:   ApprovalConfidence(score),
		},
		Factors:   factors,
		Flags:     FlagsFor(factors),
		Amount:    amount,
		Timestamp: at,
	}
}
