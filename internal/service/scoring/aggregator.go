package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

// Service assesses transactions
type Service interface {
	// Evaluate runs every scorer and returns the weighted aggregate
	Evaluate(ctx context.Context, tc *risk.TransactionContext) (int, risk.FactorScores, error)

	// Assess evaluates tc and applies the decision policy
	Assess(ctx context.Context, tc *risk.TransactionContext, at time.Time) (*risk.Assessment, error)
}

// Aggregator combines weighted sub-scores into one 0-100 score
type Aggregator struct {
	scorers []WeightedScorer
}

// NewAggregator validates the scorer configuration. Order is preserved and
// every factor may appear at most once.
func NewAggregator(scorers []WeightedScorer) (*Aggregator, error) {
	if len(scorers) == 0 {
		return nil, fmt.Errorf("at least one scorer is required")
	}

	seen := make(map[risk.Factor]bool, len(scorers))
	for i, ws := range scorers {
		if ws.Scorer == nil {
			return nil, fmt.Errorf("scorer %d is nil", i)
		}
		if ws.Weight < 0 || math.IsNaN(ws.Weight) || math.IsInf(ws.Weight, 0) {
			return nil, fmt.Errorf("scorer %s has invalid weight %v", ws.Scorer.Factor(), ws.Weight)
		}
		if seen[ws.Scorer.Factor()] {
			return nil, fmt.Errorf("factor %s configured twice", ws.Scorer.Factor())
		}
		seen[ws.Scorer.Factor()] = true
	}

	return &Aggregator{scorers: append([]WeightedScorer(nil), scorers...)}, nil
}

// Scorers returns a copy of the configured scorer list
func (a *Aggregator) Scorers() []WeightedScorer {
	return append([]WeightedScorer(nil), a.scorers...)
}

func (a *Aggregator) Evaluate(ctx context.Context, tc *risk.TransactionContext) (int, risk.FactorScores, error) {
	results := make([]int, len(a.scorers))

	g, gctx := errgroup.WithContext(ctx)
	for i, ws := range a.scorers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := ws.Scorer.Score(tc)
			if s < 0 {
				s = 0
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, risk.FactorScores{}, fmt.Errorf("scoring transaction: %w", err)
	}

	// summed in configuration order so the result is deterministic
	var factors risk.FactorScores
	total := 0.0
	for i, ws := range a.scorers {
		factors.Set(ws.Scorer.Factor(), results[i])
		total += float64(results[i]) * ws.Weight
	}

	return risk.ClampScore(int(math.Round(total))), factors, nil
}

func (a *Aggregator) Assess(ctx context.Context, tc *risk.TransactionContext, at time.Time) (*risk.Assessment, error) {
	score, factors, err := a.Evaluate(ctx, tc)
	if err != nil {
		return nil, err
	}
	return risk.NewAssessment(tc, score, factors, at), nil
}
