package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/events"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/memstore"
	"github.com/davidleathers/risk-scoring-engine/internal/service/riskprofile"
)

var start = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// stubScorer scores a transaction at its amount, with the whole score on
// the transaction factor unless fn says otherwise.
type stubScorer struct {
	mu   sync.Mutex
	seen []*risk.TransactionContext
	fn   func(tc *risk.TransactionContext) (int, risk.FactorScores)
}

func (s *stubScorer) Evaluate(_ context.Context, tc *risk.TransactionContext) (int, risk.FactorScores, error) {
	s.mu.Lock()
	s.seen = append(s.seen, tc)
	s.mu.Unlock()

	if s.fn != nil {
		score, f := s.fn(tc)
		return score, f, nil
	}
	score := int(tc.Amount.IntPart())
	return score, risk.FactorScores{Transaction: score}, nil
}

func (s *stubScorer) Assess(ctx context.Context, tc *risk.TransactionContext, at time.Time) (*risk.Assessment, error) {
	score, f, err := s.Evaluate(ctx, tc)
	if err != nil {
		return nil, err
	}
	return risk.NewAssessment(tc, score, f, at), nil
}

func (s *stubScorer) last() *risk.TransactionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[len(s.seen)-1]
}

type flakyPublisher struct {
	*events.MemoryBus
	failures atomic.Int32
}

func (p *flakyPublisher) Publish(ctx context.Context, msg events.Message) error {
	if p.failures.Add(-1) >= 0 {
		return fmt.Errorf("connection reset by peer")
	}
	return p.MemoryBus.Publish(ctx, msg)
}

type stubVelocity struct {
	snap risk.VelocitySnapshot
	err  error
}

func (v stubVelocity) Record(context.Context, string, string, time.Time) (risk.VelocitySnapshot, error) {
	return v.snap, v.err
}

type countingLocker struct {
	acquired, released atomic.Int32
}

func (l *countingLocker) Acquire(context.Context, string) (func(), error) {
	l.acquired.Add(1)
	return func() { l.released.Add(1) }, nil
}

type harness struct {
	svc       Service
	scorer    *stubScorer
	profiles  *memstore.ProfileStore
	events    *memstore.EventStore
	anomalies *memstore.AnomalyStore
	bus       *flakyPublisher
}

func newHarness(t *testing.T, opts ...func(*Dependencies)) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		scorer:    &stubScorer{},
		profiles:  memstore.NewProfileStore(),
		events:    memstore.NewEventStore(),
		anomalies: memstore.NewAnomalyStore(),
		bus:       &flakyPublisher{MemoryBus: events.NewMemoryBus(logger)},
	}

	engineCfg := riskprofile.DefaultConfig()
	engineCfg.RetryWait = time.Millisecond

	deps := Dependencies{
		Scorer:    h.scorer,
		Engine:    riskprofile.NewEngine(h.profiles, h.events, engineCfg, logger),
		Events:    h.events,
		Anomalies: h.anomalies,
		Publisher: h.bus,
		Logger:    logger,
		Clock:     func() time.Time { return start.Add(time.Hour) },
	}
	for _, opt := range opts {
		opt(&deps)
	}

	cfg := DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.CallTimeout = time.Second

	svc, err := NewService(deps, cfg)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func txn(id string, amount int64, offset time.Duration) *risk.TransactionContext {
	return &risk.TransactionContext{
		TransactionID: id,
		CustomerID:    "cust-1",
		Amount:        decimal.NewFromInt(amount),
		Currency:      "USD",
		Merchant:      "acme-hardware",
		Location:      &risk.Location{Country: "US", City: "New York"},
		Timestamp:     start.Add(offset),
	}
}

func TestService_SignificantChangeIsPersistedAndPublished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.svc.Process(ctx, txn("txn-1", 40, 0))
	require.NoError(t, err)
	assert.Equal(t, risk.LevelMedium, first.Assessment.Level)
	assert.True(t, first.ProfileUpdated)
	assert.Equal(t, int64(1), first.ProfileVersion)
	assert.False(t, first.Replayed)

	second, err := h.svc.Process(ctx, txn("txn-2", 55, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, risk.LevelHigh, second.Assessment.Level)
	assert.Equal(t, risk.DecisionManualReview, second.Assessment.Decision)
	assert.True(t, second.ProfileUpdated)
	assert.Equal(t, int64(2), second.ProfileVersion)
	assert.Equal(t, int64(2), second.EventVersion)

	stored, err := h.profiles.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 55, stored.CurrentScore)
	assert.Equal(t, 40, stored.PreviousScore)
	assert.Equal(t, int64(2), stored.Version)

	updates := h.bus.Messages(DefaultTopics().ProfileUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, "cust-1", updates[1].Key)
	assert.Equal(t, "cust-1:v2", updates[1].ID)

	scores := h.bus.Messages(DefaultTopics().ScoreCalculated)
	require.Len(t, scores, 2)
	var published risk.Assessment
	require.NoError(t, scores[1].Decode(&published))
	assert.Equal(t, "txn-2", published.TransactionID)
	assert.Equal(t, 55, published.Score)

	// both transactions deviate on amount, only the HIGH one alerts
	alerts := h.bus.Messages(DefaultTopics().HighRiskAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, "txn-2", alerts[0].Key)

	found, err := h.svc.QueryAnomalies(ctx, anomaly.Query{CustomerID: "cust-1"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, anomaly.TypeAmountDeviation, found[0].Type)
}

func TestService_InsignificantChangeIsNotPublished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Process(ctx, txn("txn-1", 40, 0))
	require.NoError(t, err)

	out, err := h.svc.Process(ctx, txn("txn-2", 45, time.Minute))
	require.NoError(t, err)
	assert.False(t, out.ProfileUpdated)
	assert.Equal(t, int64(1), out.ProfileVersion)

	assert.Len(t, h.bus.Messages(DefaultTopics().ProfileUpdated), 1)
	assert.Len(t, h.bus.Messages(DefaultTopics().ScoreCalculated), 2)

	recent, err := h.svc.RecentEvents(ctx, "cust-1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "txn-2", recent[0].TransactionID)
}

func TestService_RedeliveryReplaysRecordedOutcome(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.svc.Process(ctx, txn("txn-1", 60, 0))
	require.NoError(t, err)

	// a redelivered message may carry different data; the recorded outcome wins
	again, err := h.svc.Process(ctx, txn("txn-1", 10, time.Second))
	require.NoError(t, err)

	assert.True(t, again.Replayed)
	assert.Equal(t, first.EventID, again.EventID)
	assert.Equal(t, 60, again.Assessment.Score)
	assert.Len(t, h.scorer.seen, 1, "a recorded transaction is not scored again")

	head, err := h.events.Head(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)

	assert.Len(t, h.bus.Messages(DefaultTopics().ProfileUpdated), 1)
	assert.Len(t, h.bus.Messages(DefaultTopics().ScoreCalculated), 1)
	assert.Len(t, h.bus.Messages(DefaultTopics().HighRiskAlert), 1)

	found, err := h.anomalies.Query(ctx, anomaly.Query{})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestService_ConcurrentTransactionsForOneCustomer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		amount := int64(20)
		if i%2 == 1 {
			amount = 80
		}
		tc := txn(fmt.Sprintf("txn-%02d", i), amount, time.Duration(i)*time.Second)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Process(ctx, tc)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := h.svc.EventsSince(ctx, "cust-1", 0)
	require.NoError(t, err)
	require.Len(t, all, n)

	updated := 0
	sum := 0
	for i, e := range all {
		assert.Equal(t, int64(i+1), e.EventVersion, "event versions are gap free")
		if e.Data.ProfileUpdated {
			updated++
			sum += e.Data.NewScore
		}
	}

	stored, err := h.profiles.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(updated), stored.Version)
	assert.Equal(t, updated, stored.Stats.TransactionCount)
	assert.InDelta(t, float64(sum)/float64(updated), stored.Stats.AverageRiskScore, 1e-9)

	replayed := riskevent.Replay(all)
	assert.Equal(t, stored.Version, replayed.Version)
	assert.Equal(t, stored.CurrentScore, replayed.CurrentScore)
	assert.InDelta(t, stored.Stats.AverageRiskScore, replayed.Stats.AverageRiskScore, 1e-9)
	assert.Len(t, h.bus.Messages(DefaultTopics().ProfileUpdated), updated)
}

func TestService_RejectsInvalidTransactions(t *testing.T) {
	h := newHarness(t)

	tc := txn("txn-1", 40, 0)
	tc.CustomerID = ""

	_, err := h.svc.Process(context.Background(), tc)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.False(t, errors.IsRetryable(err))
	assert.Empty(t, h.bus.Messages(""))

	_, err = h.svc.Process(context.Background(), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestService_RetriesTransientPublishFailures(t *testing.T) {
	h := newHarness(t)
	h.bus.failures.Store(2)

	_, err := h.svc.Process(context.Background(), txn("txn-1", 40, 0))
	require.NoError(t, err)
	assert.Len(t, h.bus.Messages(DefaultTopics().ScoreCalculated), 1)
}

func TestService_PublishOutageIsRetryableAndReplayed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bus.failures.Store(1000)

	_, err := h.svc.Process(ctx, txn("txn-1", 40, 0))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	assert.True(t, errors.IsRetryable(err))

	// the event is the commit point and survives the outage
	head, err := h.events.Head(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)

	h.bus.failures.Store(0)
	out, err := h.svc.Process(ctx, txn("txn-1", 40, 0))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Len(t, h.bus.Messages(DefaultTopics().ProfileUpdated), 1)
	assert.Len(t, h.bus.Messages(DefaultTopics().ScoreCalculated), 1)
}

func TestService_Enrichment(t *testing.T) {
	ctx := context.Background()
	registry := memstore.NewMerchantRegistry(risk.MerchantProfile{
		ID:             "acme-hardware",
		Name:           "Acme Hardware",
		Category:       "retail",
		ChargebackRate: decimal.RequireFromString("0.01"),
		RegisteredAt:   start.AddDate(-2, 0, 0),
	})
	locker := &countingLocker{}
	h := newHarness(t, func(d *Dependencies) {
		d.Merchants = registry
		d.Velocity = stubVelocity{snap: risk.VelocitySnapshot{TransactionsInLastHour: 3, TransactionsInLastDay: 9}}
		d.Locker = locker
	})

	first := txn("txn-1", 40, 0)
	first.Customer = &risk.CustomerSnapshot{KYCStatus: risk.KYCVerified, AccountStatus: risk.AccountActive}
	_, err := h.svc.Process(ctx, first)
	require.NoError(t, err)

	seen := h.scorer.last()
	require.NotNil(t, seen.MerchantProfile)
	assert.Equal(t, "retail", seen.MerchantProfile.Category)
	require.NotNil(t, seen.Velocity)
	assert.Equal(t, 3, seen.Velocity.TransactionsInLastHour)
	assert.Nil(t, first.MerchantProfile, "the caller's context is left untouched")

	second := txn("txn-2", 30, time.Minute)
	second.Merchant = "unknown-shop"
	second.Velocity = &risk.VelocitySnapshot{TransactionsInLastHour: 1}
	_, err = h.svc.Process(ctx, second)
	require.NoError(t, err)

	seen = h.scorer.last()
	assert.Nil(t, seen.MerchantProfile)
	assert.Equal(t, 1, seen.Velocity.TransactionsInLastHour, "counts on the event take precedence")
	require.NotNil(t, seen.Customer, "customer snapshot falls back to the stored profile")
	assert.Equal(t, risk.KYCVerified, seen.Customer.KYCStatus)

	assert.Equal(t, int32(2), locker.acquired.Load())
	assert.Equal(t, int32(2), locker.released.Load())
}

func TestService_VelocityOutage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(d *Dependencies) {
		d.Velocity = stubVelocity{err: fmt.Errorf("i/o timeout")}
	})

	// counts carried on the event make the tracker optional
	withCounts := txn("txn-1", 40, 0)
	withCounts.Velocity = &risk.VelocitySnapshot{TransactionsInLastDay: 2}
	_, err := h.svc.Process(ctx, withCounts)
	require.NoError(t, err)

	_, err = h.svc.Process(ctx, txn("txn-2", 40, time.Minute))
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))

	head, err := h.events.Head(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}

func TestService_GetProfile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.GetProfile(ctx, "cust-1")
	assert.True(t, errors.IsNotFound(err))

	tc := txn("txn-1", 40, 0)
	tc.Customer = &risk.CustomerSnapshot{
		KYCStatus:     risk.KYCPending,
		AccountStatus: risk.AccountDormant,
		FraudHistory:  true,
	}
	_, err = h.svc.Process(ctx, tc)
	require.NoError(t, err)

	view, err := h.svc.GetProfile(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 40, view.CurrentScore)
	assert.Equal(t, risk.LevelMedium, view.Level)
	assert.Len(t, view.History, 1)
	assert.Equal(t, Summary{
		CustomerSegment: DefaultSegment,
		KYCStatus:       risk.KYCPending,
		FraudHistory:    true,
		Dormant:         true,
	}, view.Summary)

	_, err = h.svc.GetProfile(ctx, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestService_ReadSideValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.EventsSince(ctx, "cust-1", -1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = h.svc.RecentEvents(ctx, "", 10)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = h.svc.QueryAnomalies(ctx, anomaly.Query{From: start, To: start.Add(-time.Hour)})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	none, err := h.svc.EventsSince(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Dependencies{}, DefaultConfig())
	assert.Error(t, err)
}

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "a")
	require.NoError(t, err)

	other, err := km.Acquire(ctx, "b")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = km.Acquire(waitCtx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Zero(t, km.len())

	again, err := km.Acquire(ctx, "a")
	require.NoError(t, err)
	again()
}
