package riskevent

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

const (
	AggregateType            = "CustomerRiskProfile"
	EventTypeScoreCalculated = "RiskScoreCalculated"
	Source                   = "RiskScoringEngine"
	SystemUser               = "system"
)

var eventNamespace = uuid.MustParse("b4a7e0c1-95d2-4c3e-8f61-0d9a2e7c4b58")

// Metadata links an event to the command that caused it
type Metadata struct {
	CausationID   string `json:"causationId"`
	CorrelationID string `json:"correlationId"`
	UserID        string `json:"userId"`
	Source        string `json:"source"`
}

// ScoreCalculated is the payload recorded for every processed transaction
type ScoreCalculated struct {
	TransactionID   string                 `json:"transactionId"`
	PreviousScore   int                    `json:"previousScore"`
	NewScore        int                    `json:"newScore"`
	RiskLevel       risk.Level             `json:"riskLevel"`
	Factors         risk.FactorScores      `json:"riskFactors"`
	Decision        risk.Decision          `json:"decision"`
	DecisionDetails risk.DecisionDetails   `json:"decisionDetails"`
	RiskFlags       []risk.RiskFlag        `json:"riskFlags"`
	Amount          decimal.Decimal        `json:"amount"`
	AssessedAt      time.Time              `json:"assessedAt"`
	Customer        *risk.CustomerSnapshot `json:"customerProfile,omitempty"`
	ProfileUpdated  bool                   `json:"profileUpdated"`
	ProfileVersion  int64                  `json:"profileVersion"`
}

// Entry is one immutable record in a customer's event stream
type Entry struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	EventVersion  int64           `json:"eventVersion"`
	TransactionID string          `json:"transactionId"`
	Data          ScoreCalculated `json:"eventData"`
	Metadata      Metadata        `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Outcome describes what the profile engine did with an assessment
type Outcome struct {
	PreviousScore  int
	ProfileUpdated bool
	ProfileVersion int64
	Customer       *risk.CustomerSnapshot
}

// EventID is the stable id of the event recorded for a transaction
func EventID(customerID, transactionID string) string {
	return "event-" + uuid.NewSHA1(eventNamespace, []byte(customerID+"/"+transactionID)).String()
}

// CausationID is derived from the transaction id
func CausationID(transactionID string) string {
	return "cmd-txn-" + transactionID
}

// CorrelationID is derived from the transaction id
func CorrelationID(transactionID string) string {
	return "corr-" + transactionID
}

// NewScoreCalculated builds the event for an assessment at the given stream
// version.
func NewScoreCalculated(a *risk.Assessment, version int64, out Outcome) *Entry {
	flags := append([]risk.RiskFlag(nil), a.Flags...)

	return &Entry{
		ID:            EventID(a.CustomerID, a.TransactionID),
		AggregateID:   a.CustomerID,
		AggregateType: AggregateType,
		EventType:     EventTypeScoreCalculated,
		EventVersion:  version,
		TransactionID: a.TransactionID,
		Data: ScoreCalculated{
			TransactionID:   a.TransactionID,
			PreviousScore:   out.PreviousScore,
			NewScore:        a.Score,
			RiskLevel:       a.Level,
			Factors:         a.Factors,
			Decision:        a.Decision,
			DecisionDetails: a.Details,
			RiskFlags:       flags,
			Amount:          a.Amount,
			AssessedAt:      a.Timestamp,
			Customer:        out.Customer.Clone(),
			ProfileUpdated:  out.ProfileUpdated,
			ProfileVersion:  out.ProfileVersion,
		},
		Metadata: Metadata{
			CausationID:   CausationID(a.TransactionID),
			CorrelationID: CorrelationID(a.TransactionID),
			UserID:        SystemUser,
			Source:        Source,
		},
		Timestamp: a.Timestamp,
	}
}

// Assessment rebuilds the assessment the event was recorded for
func (e *Entry) Assessment() *risk.Assessment {
	return &risk.Assessment{
		TransactionID: e.TransactionID,
		CustomerID:    e.AggregateID,
		Score:         e.Data.NewScore,
		Level:         e.Data.RiskLevel,
		Decision:      e.Data.Decision,
		Details:       e.Data.DecisionDetails,
		Factors:       e.Data.Factors,
		Flags:         append([]risk.RiskFlag(nil), e.Data.RiskFlags...),
		Amount:        e.Data.Amount,
		Timestamp:     e.Data.AssessedAt,
	}
}

// Observation returns the profile input carried by the event
func (e *Entry) Observation() profile.Observation {
	return profile.ObservationFrom(e.Assessment(), e.Data.Customer, e.EventVersion)
}

// CatchUp applies every profile-updating event newer than base's event
// cursor, in stream order, and moves the cursor to the newest event seen.
// base may be nil.
func CatchUp(base *profile.Profile, entries []Entry) *profile.Profile {
	ordered := append([]Entry(nil), entries...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].EventVersion < ordered[j].EventVersion
	})

	var cursor int64
	if base != nil {
		cursor = base.EventVersion
	}

	last := cursor
	obs := make([]profile.Observation, 0, len(ordered))
	for i := range ordered {
		e := &ordered[i]
		if e.EventVersion > last {
			last = e.EventVersion
		}
		if e.EventVersion <= cursor || !e.Data.ProfileUpdated {
			continue
		}
		obs = append(obs, e.Observation())
	}

	// skipped events still move the cursor so they are not read again
	return profile.Fold(base, obs).Advance(last)
}

// Replay rebuilds a profile from a customer's complete event stream
func Replay(entries []Entry) *profile.Profile {
	return CatchUp(nil, entries)
}
