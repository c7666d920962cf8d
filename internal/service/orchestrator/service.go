package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/events"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/risk-scoring-engine/internal/metrics"
	"github.com/davidleathers/risk-scoring-engine/internal/service/riskprofile"
	"github.com/davidleathers/risk-scoring-engine/internal/service/scoring"
)

// Event listing limits
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// Dependencies are the collaborators of the orchestrator. Merchants,
// Velocity, Locker, Metrics and Clock are optional.
type Dependencies struct {
	Scorer    scoring.Service
	Engine    *riskprofile.Engine
	Events    EventReader
	Anomalies AnomalyRepository
	Publisher events.Publisher
	Merchants MerchantRegistry
	Velocity  VelocityTracker
	Locker    Locker
	Metrics   *metrics.Registry
	Logger    *zap.Logger
	Clock     func() time.Time
}

// service implements the Service interface
type service struct {
	scorer    scoring.Service
	engine    *riskprofile.Engine
	events    EventReader
	anomalies AnomalyRepository
	publisher events.Publisher
	merchants MerchantRegistry
	velocity  VelocityTracker
	locker    Locker
	metrics   *metrics.Registry
	logger    *zap.Logger
	tracer    *telemetry.Tracer
	now       func() time.Time

	cfg   Config
	local *keyedMutex
}

// NewService creates the orchestrator
func NewService(deps Dependencies, cfg Config) (Service, error) {
	switch {
	case deps.Scorer == nil:
		return nil, fmt.Errorf("scorer is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("profile engine is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("event reader is required")
	case deps.Anomalies == nil:
		return nil, fmt.Errorf("anomaly repository is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	}

	defaults := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaults.RetryInitialInterval
	}
	if cfg.Topics == (Topics{}) {
		cfg.Topics = defaults.Topics
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = Now
	}

	return &service{
		scorer:    deps.Scorer,
		engine:    deps.Engine,
		events:    deps.Events,
		anomalies: deps.Anomalies,
		publisher: deps.Publisher,
		merchants: deps.Merchants,
		velocity:  deps.Velocity,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		logger:    logger,
		tracer:    telemetry.NewTracer("risk-scoring-engine/orchestrator"),
		now:       clock,
		cfg:       cfg,
		local:     newKeyedMutex(),
	}, nil
}

// Now is the engine clock: UTC at microsecond precision, which is what the
// stores keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Process runs one transaction through scoring, the profile engine and the
// outbound topics.
func (s *service) Process(ctx context.Context, tc *risk.TransactionContext) (out *Outcome, err error) {
	started := time.Now()
	if err := tc.Validate(); err != nil {
		s.metrics.ObserveError(string(errors.ErrorTypeValidation), time.Since(started))
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "orchestrator.Process",
		attribute.String("customer.id", tc.CustomerID),
		attribute.String("transaction.id", tc.TransactionID))
	defer func() {
		telemetry.End(span, err)
		if err != nil {
			s.metrics.ObserveError(errorType(err), time.Since(started))
		}
	}()

	log := telemetry.WithTrace(ctx, s.logger).With(
		zap.String("customer_id", tc.CustomerID),
		zap.String("transaction_id", tc.TransactionID))

	release, err := s.lock(ctx, tc.CustomerID)
	if err != nil {
		return nil, err
	}
	defer release()

	prior, err := s.recorded(ctx, tc.CustomerID, tc.TransactionID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return s.finish(ctx, log, prior, started)
	}

	enriched, err := s.enrich(ctx, log, tc)
	if err != nil {
		return nil, err
	}

	a, err := s.scorer.Assess(ctx, enriched, s.now())
	if err != nil {
		return nil, fmt.Errorf("assessing %s: %w", tc.TransactionID, err)
	}

	var res *riskprofile.Result
	err = s.call(ctx, "profile engine", func(ctx context.Context) error {
		r, err := s.engine.Record(ctx, a, enriched.Customer)
		res = r
		return err
	})
	if err != nil {
		log.Error("recording assessment failed", zap.Error(err))
		return nil, err
	}

	log.Info("transaction assessed",
		zap.Int("risk_score", a.Score),
		zap.String("risk_level", string(a.Level)),
		zap.String("decision", string(a.Decision)),
		zap.Bool("profile_updated", res.Updated),
		zap.Int64("event_version", res.Event.EventVersion))

	return s.finish(ctx, log, res, started)
}

// recorded returns the engine result for a transaction already in the log
func (s *service) recorded(ctx context.Context, customerID, transactionID string) (*riskprofile.Result, error) {
	var prior *riskprofile.Result
	err := s.call(ctx, "event store", func(ctx context.Context) error {
		r, err := s.engine.Recorded(ctx, customerID, transactionID)
		if errors.IsNotFound(err) {
			return nil
		}
		prior = r
		return err
	})
	return prior, err
}

// enrich fills in the merchant record, velocity counts and customer
// snapshot the inbound context does not carry.
func (s *service) enrich(ctx context.Context, log *zap.Logger, tc *risk.TransactionContext) (*risk.TransactionContext, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.enrich")
	var err error
	defer func() { telemetry.End(span, err) }()

	out := *tc

	if out.MerchantProfile == nil && s.merchants != nil {
		err = s.call(ctx, "merchant registry", func(ctx context.Context) error {
			m, err := s.merchants.Lookup(ctx, tc.Merchant)
			if errors.IsNotFound(err) {
				return nil
			}
			out.MerchantProfile = m
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	if s.velocity != nil && s.cfg.TrackVelocity {
		var snap risk.VelocitySnapshot
		verr := s.call(ctx, "velocity tracker", func(ctx context.Context) error {
			v, err := s.velocity.Record(ctx, tc.CustomerID, tc.TransactionID, tc.Timestamp)
			snap = v
			return err
		})
		switch {
		case verr != nil && out.Velocity == nil:
			err = verr
			return nil, err
		case verr != nil:
			log.Warn("velocity tracking failed, using counts from the event", zap.Error(verr))
		case out.Velocity == nil:
			out.Velocity = &snap
		}
	}

	if out.Customer == nil {
		err = s.call(ctx, "profile store", func(ctx context.Context) error {
			p, err := s.engine.Profile(ctx, tc.CustomerID)
			if errors.IsNotFound(err) {
				return nil
			}
			if err == nil {
				out.Customer = p.Customer.Clone()
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return &out, nil
}

// finish performs the side effects of a recorded assessment. They are all
// idempotent, so a replayed transaction repeats whatever a failed attempt
// left undone.
func (s *service) finish(ctx context.Context, log *zap.Logger, res *riskprofile.Result, started time.Time) (*Outcome, error) {
	e := res.Event
	a := e.Assessment()
	found := anomaly.Detect(a)
	topics := s.cfg.Topics

	if res.Replayed {
		log.Info("replaying recorded transaction", zap.Int64("event_version", e.EventVersion))
	}

	// a replay publishes the profile only while it is still the version the
	// event produced; newer versions have been published since
	p := res.Profile
	if e.Data.ProfileUpdated && p != nil && p.Version == e.Data.ProfileVersion {
		id := fmt.Sprintf("%s:v%d", p.CustomerID, p.Version)
		if err := s.publish(ctx, topics.ProfileUpdated, p.CustomerID, id, TypeProfileUpdated, p); err != nil {
			return nil, err
		}
		if !res.Replayed {
			s.metrics.ObserveProfileUpdate()
		}
	}

	if len(found) > 0 {
		err := s.call(ctx, "anomaly store", func(ctx context.Context) error {
			return s.anomalies.SaveBatch(ctx, found)
		})
		if err != nil {
			log.Error("saving anomalies failed", zap.Int("anomalies", len(found)), zap.Error(err))
			return nil, err
		}
		if !res.Replayed {
			s.metrics.ObserveAnomalies(found)
		}

		if a.Level.IsHighRisk() {
			alert := highRiskAlert{Assessment: a, Anomalies: found}
			if err := s.publish(ctx, topics.HighRiskAlert, a.TransactionID, a.TransactionID, TypeHighRiskAlert, alert); err != nil {
				return nil, err
			}
			if !res.Replayed {
				s.metrics.ObserveAlert()
				log.Warn("high risk alert raised",
					zap.Int("risk_score", a.Score),
					zap.Int("anomalies", len(found)))
			}
		}
	}

	if err := s.publish(ctx, topics.ScoreCalculated, a.TransactionID, a.TransactionID, TypeScoreCalculated, a); err != nil {
		return nil, err
	}

	s.metrics.ObserveAssessment(a, time.Since(started), res.Replayed)
	return outcomeFrom(e, p, found, res.Replayed), nil
}

type highRiskAlert struct {
	*risk.Assessment
	Anomalies []anomaly.Anomaly `json:"anomalies"`
}

func (s *service) publish(ctx context.Context, topic, key, id, eventType string, v any) error {
	msg, err := events.NewMessage(topic, key, id, eventType, v)
	if err != nil {
		return err
	}
	return s.call(ctx, "event bus", func(ctx context.Context) error {
		return s.publisher.Publish(ctx, msg)
	})
}

// lock serializes a customer within this process and, when a Locker is
// configured, across instances.
func (s *service) lock(ctx context.Context, customerID string) (func(), error) {
	release, err := s.local.Acquire(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if s.locker == nil {
		return release, nil
	}

	var remote func()
	err = s.call(ctx, "customer lock", func(ctx context.Context) error {
		r, err := s.locker.Acquire(ctx, customerID)
		remote = r
		return err
	})
	if err != nil {
		release()
		return nil, err
	}
	return func() {
		remote()
		release()
	}, nil
}

// call runs fn under the call timeout, retrying retryable failures with
// exponential backoff.
func (s *service) call(ctx context.Context, component string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval
	b.MaxInterval = 10 * s.cfg.RetryInitialInterval
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()

		err := fn(cctx)
		if err == nil {
			return nil
		}
		err = classify(component, err)
		if !errors.IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		s.logger.Debug("external call failed, retrying",
			zap.String("component", component),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.RetryAttempts)), ctx))

	if err != nil && ctx.Err() == nil {
		return classify(component, err)
	}
	return err
}

// classify turns bare infrastructure failures into retryable transport
// errors. Application errors keep their type.
func classify(component string, err error) error {
	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &appErr):
		return err
	case stderrors.Is(err, context.Canceled):
		return err
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTransportError(component, "call timed out").WithCause(err)
	default:
		return errors.NewTransportError(component, err.Error()).WithCause(err)
	}
}

func errorType(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return string(appErr.Type)
	}
	return string(errors.ErrorTypeInternal)
}

func (s *service) GetProfile(ctx context.Context, customerID string) (*ProfileView, error) {
	if customerID == "" {
		return nil, errors.NewValidationError("MISSING_CUSTOMER_ID", "customerId is required")
	}
	p, err := s.engine.Profile(ctx, customerID)
	if err != nil {
		return nil, classify("profile store", err)
	}
	return NewProfileView(p), nil
}

func (s *service) RecentEvents(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error) {
	if customerID == "" {
		return nil, errors.NewValidationError("MISSING_CUSTOMER_ID", "customerId is required")
	}
	switch {
	case limit <= 0:
		limit = DefaultEventLimit
	case limit > MaxEventLimit:
		limit = MaxEventLimit
	}
	entries, err := s.events.Recent(ctx, customerID, limit)
	if err != nil {
		return nil, classify("event store", err)
	}
	return entries, nil
}

func (s *service) EventsSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error) {
	if customerID == "" {
		return nil, errors.NewValidationError("MISSING_CUSTOMER_ID", "customerId is required")
	}
	if afterVersion < 0 {
		return nil, errors.NewValidationError("INVALID_VERSION", "version must not be negative")
	}
	entries, err := s.events.ListSince(ctx, customerID, afterVersion)
	if err != nil {
		return nil, classify("event store", err)
	}
	return entries, nil
}

func (s *service) QueryAnomalies(ctx context.Context, q anomaly.Query) ([]anomaly.Anomaly, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, errors.NewValidationError("INVALID_TIME_WINDOW", "to must not be before from")
	}
	if q.Limit < 0 {
		return nil, errors.NewValidationError("INVALID_LIMIT", "limit must not be negative")
	}
	found, err := s.anomalies.Query(ctx, q)
	if err != nil {
		return nil, classify("anomaly store", err)
	}
	return found, nil
}
