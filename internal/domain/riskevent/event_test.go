package riskevent

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newAssessment(txnID string, score int, at time.Time) *risk.Assessment {
	tc := &risk.TransactionContext{
		TransactionID: txnID,
		CustomerID:    "cust-9",
		Amount:        decimal.NewFromFloat(42.10),
	}
	return risk.NewAssessment(tc, score, risk.FactorScores{Transaction: score / 3, Geographic: score / 5}, at)
}

// record runs the same merge-then-decide sequence the engine runs and
// returns the stored profile together with the event stream.
func record(t *testing.T, scores []int) (*profile.Profile, []Entry) {
	t.Helper()

	var stored *profile.Profile
	var log []Entry
	customer := &risk.CustomerSnapshot{AvgTransactionAmount: decimal.NewFromInt(50)}

	for i, score := range scores {
		a := newAssessment("txn-"+string(rune('a'+i)), score, start.Add(time.Duration(i)*time.Minute))
		version := int64(len(log) + 1)

		merged := profile.Merge(stored, profile.ObservationFrom(a, customer, version))
		significant := profile.IsSignificant(stored, merged)

		out := Outcome{Customer: customer}
		if stored != nil {
			out.PreviousScore = stored.CurrentScore
			out.ProfileVersion = stored.Version
		}
		if significant {
			stored = merged
			out.ProfileUpdated = true
			out.ProfileVersion = merged.Version
		} else {
			stored = stored.Advance(version)
		}

		e := NewScoreCalculated(a, version, out)
		log = append(log, *e)
	}

	require.NotNil(t, stored)
	return stored, log
}

func TestNewScoreCalculated(t *testing.T) {
	a := newAssessment("txn-77", 64, start)
	customer := &risk.CustomerSnapshot{FraudHistory: true}

	e := NewScoreCalculated(a, 3, Outcome{
		PreviousScore:  40,
		ProfileUpdated: true,
		ProfileVersion: 2,
		Customer:       customer,
	})

	assert.Equal(t, EventID("cust-9", "txn-77"), e.ID)
	assert.Equal(t, "cust-9", e.AggregateID)
	assert.Equal(t, AggregateType, e.AggregateType)
	assert.Equal(t, EventTypeScoreCalculated, e.EventType)
	assert.Equal(t, int64(3), e.EventVersion)
	assert.Equal(t, "txn-77", e.TransactionID)
	assert.Equal(t, 40, e.Data.PreviousScore)
	assert.Equal(t, 64, e.Data.NewScore)
	assert.Equal(t, risk.LevelHigh, e.Data.RiskLevel)
	assert.Equal(t, risk.DecisionManualReview, e.Data.Decision)
	assert.Equal(t, a.Factors, e.Data.Factors)
	assert.True(t, e.Data.ProfileUpdated)
	assert.Equal(t, int64(2), e.Data.ProfileVersion)
	assert.Equal(t, Metadata{
		CausationID:   "cmd-txn-txn-77",
		CorrelationID: "corr-txn-77",
		UserID:        "system",
		Source:        "RiskScoringEngine",
	}, e.Metadata)

	customer.FraudHistory = false
	assert.True(t, e.Data.Customer.FraudHistory, "event keeps its own copy of the snapshot")
}

func TestEventID_Stable(t *testing.T) {
	assert.Equal(t, EventID("c", "t"), EventID("c", "t"))
	assert.NotEqual(t, EventID("c", "t"), EventID("c", "u"))
	assert.Contains(t, EventID("c", "t"), "event-")
}

func TestEntry_AssessmentRoundTrip(t *testing.T) {
	a := newAssessment("txn-5", 81, start)
	e := NewScoreCalculated(a, 1, Outcome{})

	assert.True(t, reflect.DeepEqual(a, e.Assessment()))
}

func TestReplay_ReproducesStoredProfile(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	scores := make([]int, 60)
	for i := range scores {
		scores[i] = rng.Intn(101)
	}

	stored, log := record(t, scores)
	replayed := Replay(log)

	require.NotNil(t, replayed)
	assert.Equal(t, stored.CurrentScore, replayed.CurrentScore)
	assert.Equal(t, stored.Version, replayed.Version)
	assert.True(t, reflect.DeepEqual(stored, replayed))
}

func TestReplay_OrderIndependentInput(t *testing.T) {
	stored, log := record(t, []int{10, 45, 47, 80, 12, 13, 60})

	shuffled := append([]Entry(nil), log...)
	rand.New(rand.NewSource(3)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	replayed := Replay(shuffled)
	assert.Equal(t, stored.Version, replayed.Version)
	assert.Equal(t, stored.CurrentScore, replayed.CurrentScore)
}

func TestCatchUp_AppliesOnlyNewerUpdates(t *testing.T) {
	stored, log := record(t, []int{10, 45, 47, 80, 12, 13, 60})

	// a projection that lags behind the log by the last two events
	lagging := Replay(log[:5])
	caughtUp := CatchUp(lagging, log)

	assert.Equal(t, stored.Version, caughtUp.Version)
	assert.Equal(t, stored.CurrentScore, caughtUp.CurrentScore)
	assert.Equal(t, stored.EventVersion, caughtUp.EventVersion)

	// catching up an already current projection is a no-op
	same := CatchUp(stored, log)
	assert.True(t, reflect.DeepEqual(stored, same))
}

func TestReplay_SkipsInsignificantEvents(t *testing.T) {
	// 10 -> 15 is below the threshold and must not count toward the profile
	stored, log := record(t, []int{10, 15})

	require.Len(t, log, 2)
	assert.True(t, log[0].Data.ProfileUpdated)
	assert.False(t, log[1].Data.ProfileUpdated)
	assert.Equal(t, int64(1), stored.Version)

	replayed := Replay(log)
	assert.Equal(t, int64(1), replayed.Version)
	assert.Equal(t, 10, replayed.CurrentScore)
	assert.Equal(t, int64(2), replayed.EventVersion, "skipped events still advance the cursor")
	assert.Nil(t, Replay(nil))
}
