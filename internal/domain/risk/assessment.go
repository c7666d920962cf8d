package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is the risk band an aggregate score falls into
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// IsHighRisk reports whether the level counts as a high risk transaction
func (l Level) IsHighRisk() bool {
	return l == LevelHigh || l == LevelCritical
}

// Decision is the automated action recommended for a transaction
type Decision string

const (
	DecisionAllow        Decision = "ALLOW"
	DecisionMonitor      Decision = "MONITOR"
	DecisionManualReview Decision = "MANUAL_REVIEW"
	DecisionBlock        Decision = "BLOCK"
)

// Severity grades flags and anomalies
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Factor names one of the five scoring dimensions
type Factor string

const (
	FactorTransaction Factor = "transaction"
	FactorBehavior    Factor = "behavior"
	FactorVelocity    Factor = "velocity"
	FactorGeographic  Factor = "geographic"
	FactorMerchant    Factor = "merchant"
)

// FactorScores is the per-factor breakdown of an assessment
type FactorScores struct {
	Transaction int `json:"transaction"`
	Behavior    int `json:"behavior"`
	Velocity    int `json:"velocity"`
	Geographic  int `json:"geographic"`
	Merchant    int `json:"merchant"`
}

// Set records the sub-score for factor f.
func (fs *FactorScores) Set(f Factor, score int) {
	switch f {
	case FactorTransaction:
		fs.Transaction = score
	case FactorBehavior:
		fs.Behavior = score
	case FactorVelocity:
		fs.Velocity = score
	case FactorGeographic:
		fs.Geographic = score
	case FactorMerchant:
		fs.Merchant = score
	}
}

// Get returns the sub-score for factor f.
func (fs FactorScores) Get(f Factor) int {
	switch f {
	case FactorTransaction:
		return fs.Transaction
	case FactorBehavior:
		return fs.Behavior
	case FactorVelocity:
		return fs.Velocity
	case FactorGeographic:
		return fs.Geographic
	case FactorMerchant:
		return fs.Merchant
	}
	return 0
}

// RiskFlag is a human readable marker attached to an assessment
type RiskFlag struct {
	Flag        string   `json:"flag"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// DecisionDetails explains the decision
type DecisionDetails struct {
	Reason               string  `json:"reason"`
	ManualReviewRequired bool    `json:"manualReviewRequired"`
	ApprovalConfidence   float64 `json:"approvalConfidence"`
}

// Assessment is the computed outcome for one transaction
type Assessment struct {
	TransactionID string          `json:"transactionId"`
	CustomerID    string          `json:"customerId"`
	Score         int             `json:"riskScore"`
	Level         Level           `json:"riskLevel"`
	Decision      Decision        `json:"decision"`
	Details       DecisionDetails `json:"decisionDetails"`
	Factors       FactorScores    `json:"riskFactors"`
	Flags         []RiskFlag      `json:"riskFlags"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
}
