package riskprofile

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
	"github.com/davidleathers/risk-scoring-engine/internal/metrics"
)

// DefaultMaxAttempts bounds the reload-and-merge loop on version clashes
const DefaultMaxAttempts = 5

// Config tunes the engine. A zero Policy.Threshold makes every score change
// significant.
type Config struct {
	Policy      profile.Policy
	MaxAttempts int
	RetryWait   time.Duration
	Metrics     *metrics.Registry
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		Policy:      profile.DefaultPolicy(),
		MaxAttempts: DefaultMaxAttempts,
		RetryWait:   10 * time.Millisecond,
	}
}

// Engine keeps customer profiles consistent with the event log. The event
// append is the commit point; the stored profile is a projection of the log
// and is repaired from it whenever it lags.
type Engine struct {
	profiles ProfileRepository
	events   EventStore
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates a profile engine
func NewEngine(profiles ProfileRepository, events EventStore, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Policy.Threshold < 0 {
		cfg.Policy = profile.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{profiles: profiles, events: events, cfg: cfg, logger: logger}
}

// Plan is one assessment merged into a customer's profile, not yet committed
type Plan struct {
	Stored      *profile.Profile
	Current     *profile.Profile
	Next        *profile.Profile
	Significant bool
	Head        int64

	customer *risk.CustomerSnapshot
}

// Target is the profile the projection holds once the plan is committed.
// An insignificant plan keeps the current version and only moves its event
// cursor past the new event.
func (p *Plan) Target() *profile.Profile {
	if p.Significant {
		return p.Next
	}
	return p.Current.Advance(p.Head + 1)
}

// Event builds the log entry that commits the plan
func (p *Plan) Event(a *risk.Assessment) *riskevent.Entry {
	out := riskevent.Outcome{
		ProfileUpdated: p.Significant,
		Customer:       p.customer,
	}
	if p.Current != nil {
		out.PreviousScore = p.Current.CurrentScore
		out.ProfileVersion = p.Current.Version
	}
	if p.Significant {
		out.ProfileVersion = p.Next.Version
	}
	return riskevent.NewScoreCalculated(a, p.Head+1, out)
}

// Result is what recording an assessment did
type Result struct {
	Event    *riskevent.Entry
	Profile  *profile.Profile
	Previous *profile.Profile
	Updated  bool
	Replayed bool
}

// Load returns the stored projection, the profile caught up with the log and
// the stream head.
func (e *Engine) Load(ctx context.Context, customerID string) (stored, current *profile.Profile, head int64, err error) {
	stored, err = e.profiles.Get(ctx, customerID)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, nil, 0, fmt.Errorf("loading profile %s: %w", customerID, err)
		}
		stored = nil
	}

	head, err = e.events.Head(ctx, customerID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("reading event head for %s: %w", customerID, err)
	}

	var cursor int64
	if stored != nil {
		cursor = stored.EventVersion
	}

	current = stored
	if head > cursor {
		entries, err := e.events.ListSince(ctx, customerID, cursor)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("listing events for %s: %w", customerID, err)
		}
		current = riskevent.CatchUp(stored, entries)
	}

	return stored, current, head, nil
}

// Plan merges a into the customer's current profile and applies the
// significance policy.
func (e *Engine) Plan(ctx context.Context, a *risk.Assessment, customer *risk.CustomerSnapshot) (*Plan, error) {
	stored, current, head, err := e.Load(ctx, a.CustomerID)
	if err != nil {
		return nil, err
	}

	next := profile.Merge(current, profile.ObservationFrom(a, customer, head+1))

	return &Plan{
		Stored:      stored,
		Current:     current,
		Next:        next,
		Significant: e.cfg.Policy.IsSignificant(current, next),
		Head:        head,
		customer:    customer.Clone(),
	}, nil
}

// Project brings the stored projection up to target. A projection at the
// same version only has its event cursor moved; one beyond target is left
// alone.
func (e *Engine) Project(ctx context.Context, stored, target *profile.Profile) error {
	if target == nil {
		return nil
	}

	var expected int64
	if stored != nil {
		if stored.Version > target.Version {
			return nil
		}
		if stored.Version == target.Version {
			if stored.EventVersion >= target.EventVersion {
				return nil
			}
			if err := e.profiles.Advance(ctx, target.CustomerID, target.Version, target.EventVersion); err != nil {
				return fmt.Errorf("advancing profile cursor %s: %w", target.CustomerID, err)
			}
			return nil
		}
		expected = stored.Version
	}

	err := e.profiles.Save(ctx, target, expected)
	if err == nil {
		return nil
	}
	if !errors.HasCode(err, errors.CodeVersionConflict) {
		return fmt.Errorf("saving profile %s: %w", target.CustomerID, err)
	}

	latest, getErr := e.profiles.Get(ctx, target.CustomerID)
	if getErr == nil && latest.Version >= target.Version {
		return nil
	}
	return err
}

// Record commits an assessment: it merges it into the profile, appends the
// event and projects the result. A transaction already in the log is not
// recorded again; its event is returned with Replayed set.
func (e *Engine) Record(ctx context.Context, a *risk.Assessment, customer *risk.CustomerSnapshot) (*Result, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(e.conflictBackOff(), uint64(e.cfg.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryWithData(func() (*Result, error) {
		attempt++

		existing, err := e.events.GetByTransaction(ctx, a.CustomerID, a.TransactionID)
		switch {
		case err == nil:
			res, err := e.replay(ctx, existing)
			return res, permanent(err)
		case !errors.IsNotFound(err):
			return nil, backoff.Permanent(fmt.Errorf("checking transaction %s: %w", a.TransactionID, err))
		}

		plan, err := e.Plan(ctx, a, customer)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		entry := plan.Event(a)
		if err := e.events.Append(ctx, entry); err != nil {
			if cause, ok := conflictCause(err); ok {
				e.cfg.Metrics.ObserveProfileConflict(cause)
				e.logger.Debug("event append conflict, reloading",
					zap.String("customer_id", a.CustomerID),
					zap.String("transaction_id", a.TransactionID),
					zap.Int64("event_version", entry.EventVersion),
					zap.String("cause", cause),
					zap.Int("attempt", attempt))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("appending event for %s: %w", a.TransactionID, err))
		}

		// The event is committed. A projection failure is repaired from the
		// log by the next load, so it does not undo the result.
		if err := e.Project(ctx, plan.Stored, plan.Target()); err != nil {
			e.logger.Warn("profile projection lagging behind event log",
				zap.String("customer_id", a.CustomerID),
				zap.Int64("event_version", entry.EventVersion),
				zap.Error(err))
		}

		return &Result{
			Event:    entry,
			Profile:  plan.Target(),
			Previous: plan.Current,
			Updated:  plan.Significant,
		}, nil
	}, b)
}

func conflictCause(err error) (string, bool) {
	switch {
	case errors.HasCode(err, errors.CodeVersionConflict):
		return "version", true
	case errors.HasCode(err, errors.CodeDuplicateEvent):
		return "duplicate", true
	}
	return "", false
}

// Recorded returns the result of a transaction already in the log, with
// Replayed set. A transaction not yet recorded is a not found error.
func (e *Engine) Recorded(ctx context.Context, customerID, transactionID string) (*Result, error) {
	existing, err := e.events.GetByTransaction(ctx, customerID, transactionID)
	if err != nil {
		return nil, err
	}
	return e.replay(ctx, existing)
}

// Profile returns the customer's profile caught up with the log
func (e *Engine) Profile(ctx context.Context, customerID string) (*profile.Profile, error) {
	_, current, _, err := e.Load(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.NewNotFoundError("customer risk profile")
	}
	return current, nil
}

func (e *Engine) replay(ctx context.Context, entry *riskevent.Entry) (*Result, error) {
	stored, current, _, err := e.Load(ctx, entry.AggregateID)
	if err != nil {
		return nil, err
	}
	if err := e.Project(ctx, stored, current); err != nil {
		e.logger.Warn("profile projection repair failed",
			zap.String("customer_id", entry.AggregateID),
			zap.Error(err))
	}

	e.logger.Info("transaction already recorded",
		zap.String("customer_id", entry.AggregateID),
		zap.String("transaction_id", entry.TransactionID),
		zap.Int64("event_version", entry.EventVersion))

	return &Result{
		Event:    entry,
		Profile:  current,
		Updated:  entry.Data.ProfileUpdated,
		Replayed: true,
	}, nil
}

func (e *Engine) conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryWait
	b.MaxInterval = 20 * e.cfg.RetryWait
	b.MaxElapsedTime = 0
	return b
}

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
