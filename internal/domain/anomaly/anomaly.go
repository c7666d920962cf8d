package anomaly

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

// Type classifies a detected anomaly
type Type string

const (
	TypeImpossibleTravel Type = "IMPOSSIBLE_TRAVEL"
	TypeVelocitySpike    Type = "VELOCITY_SPIKE"
	TypeAmountDeviation  Type = "AMOUNT_DEVIATION"
	TypeUnusualMerchant  Type = "UNUSUAL_MERCHANT"
)

// Status is the investigation state of an anomaly. This engine only creates
// OPEN anomalies; the other states belong to case management.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusInvestigating Status = "INVESTIGATING"
	StatusResolved      Status = "RESOLVED"
	StatusDismissed     Status = "DISMISSED"
)

// Detection thresholds, each met or exceeded by the sub-score
const (
	impossibleTravelThreshold = 15
	velocityHighThreshold     = 20
	velocityMediumThreshold   = 15
	amountDeviationThreshold  = 30
	unusualMerchantThreshold  = 10
)

var idNamespace = uuid.MustParse("6f1c0d2e-3b8a-4f59-9d4e-2a7c5e8b1f03")

// Snapshot is the assessment state captured when the anomaly was raised
type Snapshot struct {
	Factors risk.FactorScores `json:"riskFactors"`
	Score   int               `json:"riskScore"`
	Level   risk.Level        `json:"riskLevel"`
}

// Anomaly is a typed suspicious pattern found on one transaction
type Anomaly struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customerId"`
	TransactionID string        `json:"transactionId"`
	Type          Type          `json:"anomalyType"`
	Severity      risk.Severity `json:"severity"`
	Description   string        `json:"description"`
	DetectedAt    time.Time     `json:"detectedAt"`
	Status        Status        `json:"status"`
	Details       Snapshot      `json:"details"`
}

// ID derives a stable anomaly id so redelivered transactions map onto the
// same records.
func ID(transactionID string, t Type) string {
	return uuid.NewSHA1(idNamespace, []byte(transactionID+"/"+string(t))).String()
}

// Detect derives zero or more anomalies from an assessment's sub-scores.
// DetectedAt is the assessment timestamp.
func Detect(a *risk.Assessment) []Anomaly {
	if a == nil {
		return nil
	}

	f := a.Factors
	var found []Anomaly

	add := func(t Type, sev risk.Severity, desc string) {
		found = append(found, Anomaly{
			ID:            ID(a.TransactionID, t),
			CustomerID:    a.CustomerID,
			TransactionID: a.TransactionID,
			Type:          t,
			Severity:      sev,
			Description:   desc,
			DetectedAt:    a.Timestamp,
			Status:        StatusOpen,
			Details: Snapshot{
				Factors: f,
				Score:   a.Score,
				Level:   a.Level,
			},
		})
	}

	if f.Geographic >= impossibleTravelThreshold {
		add(TypeImpossibleTravel, risk.SeverityHigh,
			"Customer detected in location 1000+ km away in short time")
	}

	switch {
	case f.Velocity >= velocityHighThreshold:
		add(TypeVelocitySpike, risk.SeverityHigh,
			"Customer exceeded normal transaction frequency by 5x")
	case f.Velocity >= velocityMediumThreshold:
		add(TypeVelocitySpike, risk.SeverityMedium,
			"Customer exceeded normal transaction frequency by 3x")
	}

	if f.Transaction >= amountDeviationThreshold {
		add(TypeAmountDeviation, risk.SeverityHigh,
			"Transaction amount significantly higher than customer average")
	}

	if f.Merchant >= unusualMerchantThreshold {
		add(TypeUnusualMerchant, risk.SeverityHigh,
			"Transaction with high-risk merchant category")
	}

	return found
}

// Query filters anomaly lookups. Zero values leave a dimension unfiltered.
type Query struct {
	CustomerID string
	Type       Type
	Severity   risk.Severity
	Status     Status
	From       time.Time
	To         time.Time
	Limit      int
}

// DefaultQueryLimit caps results when a query sets no limit
const DefaultQueryLimit = 50

// Matches reports whether an anomaly satisfies the query filters (limit aside).
func (q Query) Matches(a Anomaly) bool {
	if q.CustomerID != "" && a.CustomerID != q.CustomerID {
		return false
	}
	if q.Type != "" && a.Type != q.Type {
		return false
	}
	if q.Severity != "" && a.Severity != q.Severity {
		return false
	}
	if q.Status != "" && a.Status != q.Status {
		return false
	}
	if !q.From.IsZero() && a.DetectedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && a.DetectedAt.After(q.To) {
		return false
	}
	return true
}

// EffectiveLimit returns the result cap for the query
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}
