package profile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

const (
	// MaxHistory caps the score history kept on a profile
	MaxHistory = 30

	// UpdatedBy tags every profile version written by the engine
	UpdatedBy = "RiskScoringEngine"
)

// Factor status values
const (
	StatusNormal           = "NORMAL"
	StatusAnomalyDetected  = "ANOMALY_DETECTED"
	StatusHighVelocity     = "HIGH_VELOCITY"
	geographicStatusCutoff = 10
	velocityStatusCutoff   = 15
)

// ScoreEntry is one point in the score history
type ScoreEntry struct {
	Date  time.Time  `json:"date"`
	Score int        `json:"score"`
	Level risk.Level `json:"level"`
}

// MonthlyStats are the rolling counters kept on a profile
type MonthlyStats struct {
	TransactionCount     int             `json:"transactionCount"`
	TotalAmount          decimal.Decimal `json:"totalAmount"`
	AverageRiskScore     float64         `json:"averageRiskScore"`
	HighRiskTransactions int             `json:"highRiskTransactions"`
	FlaggedTransactions  int             `json:"flaggedTransactions"`
}

// FactorStatus summarises which risk factors have tripped for the customer.
// Statuses only escalate; nothing in the engine resets them.
type FactorStatus struct {
	CustomerAgeStatus string `json:"customerAgeStatus"`
	FraudHistory      bool   `json:"fraudHistory"`
	VelocityStatus    string `json:"velocityStatus"`
	GeographicStatus  string `json:"geographicStatus"`
	MerchantStatus    string `json:"merchantStatus"`
}

// Profile is one immutable version of a customer's risk profile. Updates
// return a new value; a stored profile is never mutated in place.
type Profile struct {
	CustomerID    string                 `json:"customerId"`
	CurrentScore  int                    `json:"currentRiskScore"`
	PreviousScore int                    `json:"previousRiskScore"`
	Level         risk.Level             `json:"riskLevel"`
	LastUpdated   time.Time              `json:"lastUpdated"`
	UpdatedBy     string                 `json:"updatedBy"`
	Version       int64                  `json:"version"`
	EventVersion  int64                  `json:"eventVersion"`
	History       []ScoreEntry           `json:"scoreHistory"`
	Stats         MonthlyStats           `json:"monthlyStats"`
	Factors       FactorStatus           `json:"riskFactors"`
	Customer      *risk.CustomerSnapshot `json:"customerProfile,omitempty"`
}

// Observation is a single assessment as seen by the profile
type Observation struct {
	CustomerID   string
	Score        int
	Level        risk.Level
	Factors      risk.FactorScores
	FlagCount    int
	Amount       decimal.Decimal
	At           time.Time
	Customer     *risk.CustomerSnapshot
	EventVersion int64
}

// ObservationFrom builds the profile input for an assessment recorded at
// eventVersion.
func ObservationFrom(a *risk.Assessment, customer *risk.CustomerSnapshot, eventVersion int64) Observation {
	return Observation{
		CustomerID:   a.CustomerID,
		Score:        a.Score,
		Level:        a.Level,
		Factors:      a.Factors,
		FlagCount:    len(a.Flags),
		Amount:       a.Amount,
		At:           a.Timestamp,
		Customer:     customer,
		EventVersion: eventVersion,
	}
}

// Clone returns a deep copy
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.History = append([]ScoreEntry(nil), p.History...)
	out.Customer = p.Customer.Clone()
	return &out
}

// Advance returns p with its event cursor moved to eventVersion. The
// profile version is unchanged; a cursor already at or past eventVersion
// returns p itself.
func (p *Profile) Advance(eventVersion int64) *Profile {
	if p == nil || eventVersion <= p.EventVersion {
		return p
	}
	out := p.Clone()
	out.EventVersion = eventVersion
	return out
}

// New creates the first version of a profile from an observation
func New(o Observation) *Profile {
	highRisk := 0
	if o.Level.IsHighRisk() {
		highRisk = 1
	}

	p := &Profile{
		CustomerID:    o.CustomerID,
		CurrentScore:  o.Score,
		PreviousScore: 0,
		Level:         o.Level,
		LastUpdated:   o.At,
		UpdatedBy:     UpdatedBy,
		Version:       1,
		EventVersion:  o.EventVersion,
		History:       []ScoreEntry{{Date: o.At, Score: o.Score, Level: o.Level}},
		Stats: MonthlyStats{
			TransactionCount:     1,
			TotalAmount:          o.Amount,
			AverageRiskScore:     float64(o.Score),
			HighRiskTransactions: highRisk,
			FlaggedTransactions:  o.FlagCount,
		},
		Factors: FactorStatus{
			CustomerAgeStatus: StatusNormal,
			VelocityStatus:    StatusNormal,
			GeographicStatus:  StatusNormal,
			MerchantStatus:    StatusNormal,
		},
		Customer: o.Customer.Clone(),
	}
	if o.Customer != nil {
		p.Factors.FraudHistory = o.Customer.FraudHistory
	}

	return p
}

// Apply returns the next version of p with the observation merged in.
// p itself is left untouched.
func (p *Profile) Apply(o Observation) *Profile {
	next := p.Clone()

	next.PreviousScore = p.CurrentScore
	next.CurrentScore = o.Score
	next.Level = o.Level
	next.LastUpdated = o.At
	next.UpdatedBy = UpdatedBy
	next.Version = p.Version + 1
	if o.EventVersion > next.EventVersion {
		next.EventVersion = o.EventVersion
	}

	history := make([]ScoreEntry, 0, MaxHistory)
	history = append(history, ScoreEntry{Date: o.At, Score: o.Score, Level: o.Level})
	history = append(history, p.History...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	next.History = history

	count := float64(p.Stats.TransactionCount)
	next.Stats.AverageRiskScore = (p.Stats.AverageRiskScore*count + float64(o.Score)) / (count + 1)
	next.Stats.TransactionCount = p.Stats.TransactionCount + 1
	next.Stats.TotalAmount = p.Stats.TotalAmount.Add(o.Amount)
	if o.Level.IsHighRisk() {
		next.Stats.HighRiskTransactions++
	}
	next.Stats.FlaggedTransactions += o.FlagCount

	if o.Customer != nil {
		next.Customer = o.Customer.Clone()
		next.Factors.FraudHistory = next.Factors.FraudHistory || o.Customer.FraudHistory
	}
	applyFactorStatus(&next.Factors, o.Factors)

	return next
}

// Merge folds an observation into current, creating the profile when
// current is nil.
func Merge(current *Profile, o Observation) *Profile {
	if current == nil {
		return New(o)
	}
	return current.Apply(o)
}

func applyFactorStatus(fs *FactorStatus, f risk.FactorScores) {
	if f.Geographic > geographicStatusCutoff {
		fs.GeographicStatus = StatusAnomalyDetected
	}
	if f.Velocity > velocityStatusCutoff {
		fs.VelocityStatus = StatusHighVelocity
	}
}

// Fold replays observations in order on top of base, which may be nil.
func Fold(base *Profile, observations []Observation) *Profile {
	current := base
	for _, o := range observations {
		current = Merge(current, o)
	}
	return current
}
