package orchestrator

import (
	"time"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
)

// Outbound message types
const (
	TypeScoreCalculated = "RiskScoreCalculated"
	TypeProfileUpdated  = "RiskProfileUpdated"
	TypeHighRiskAlert   = "HighRiskAlert"
)

// DefaultSegment is the segment reported for every customer
const DefaultSegment = "STANDARD"

// Topics names the outbound streams
type Topics struct {
	ScoreCalculated string
	ProfileUpdated  string
	HighRiskAlert   string
}

// DefaultTopics returns the standard outbound stream names
func DefaultTopics() Topics {
	return Topics{
		ScoreCalculated: "risk-score-calculated",
		ProfileUpdated:  "risk-profile-updated",
		HighRiskAlert:   "risk-alert-high-score",
	}
}

// Config tunes external calls and outbound topics
type Config struct {
	Topics               Topics
	CallTimeout          time.Duration
	RetryAttempts        int
	RetryInitialInterval time.Duration
	// TrackVelocity feeds every transaction to the velocity tracker
	TrackVelocity bool
}

// DefaultConfig returns the standard orchestration settings
func DefaultConfig() Config {
	return Config{
		Topics:               DefaultTopics(),
		CallTimeout:          2 * time.Second,
		RetryAttempts:        3,
		RetryInitialInterval: 50 * time.Millisecond,
		TrackVelocity:        true,
	}
}

// Outcome is the result of processing one transaction
type Outcome struct {
	Assessment     *risk.Assessment  `json:"riskAssessment"`
	Profile        *profile.Profile  `json:"-"`
	ProfileUpdated bool              `json:"profileUpdated"`
	ProfileVersion int64             `json:"profileVersion"`
	EventID        string            `json:"eventId"`
	EventVersion   int64             `json:"eventVersion"`
	Anomalies      []anomaly.Anomaly `json:"anomalies"`
	Replayed       bool              `json:"replayed"`
}

// Summary describes the customer behind a profile
type Summary struct {
	CustomerSegment string         `json:"customerSegment"`
	KYCStatus       risk.KYCStatus `json:"kycStatus,omitempty"`
	FraudHistory    bool           `json:"fraudHistory"`
	Dormant         bool           `json:"dormant"`
}

// ProfileView is the read model of a customer's risk profile
type ProfileView struct {
	CustomerID   string               `json:"customerId"`
	CurrentScore int                  `json:"currentRiskScore"`
	Level        risk.Level           `json:"riskLevel"`
	LastUpdated  time.Time            `json:"lastUpdated"`
	Version      int64                `json:"version"`
	History      []profile.ScoreEntry `json:"scoreHistory"`
	Stats        profile.MonthlyStats `json:"monthlyStats"`
	Factors      profile.FactorStatus `json:"riskFactors"`
	Summary      Summary              `json:"riskProfile"`
}

// NewProfileView builds the read model of p
func NewProfileView(p *profile.Profile) *ProfileView {
	v := &ProfileView{
		CustomerID:   p.CustomerID,
		CurrentScore: p.CurrentScore,
		Level:        p.Level,
		LastUpdated:  p.LastUpdated,
		Version:      p.Version,
		History:      append([]profile.ScoreEntry(nil), p.History...),
		Stats:        p.Stats,
		Factors:      p.Factors,
		Summary: Summary{
			CustomerSegment: DefaultSegment,
			FraudHistory:    p.Factors.FraudHistory,
		},
	}
	if c := p.Customer; c != nil {
		v.Summary.KYCStatus = c.KYCStatus
		v.Summary.Dormant = c.AccountStatus == risk.AccountDormant
	}
	return v
}

// outcomeFrom rebuilds an outcome from a recorded event
func outcomeFrom(e *riskevent.Entry, p *profile.Profile, found []anomaly.Anomaly, replayed bool) *Outcome {
	return &Outcome{
		Assessment:     e.Assessment(),
		Profile:        p,
		ProfileUpdated: e.Data.ProfileUpdated,
		ProfileVersion: e.Data.ProfileVersion,
		EventID:        e.ID,
		EventVersion:   e.EventVersion,
		Anomalies:      found,
		Replayed:       replayed,
	}
}
