package scoring

import (
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

// Scorer computes one bounded, non-negative sub-score from a transaction.
// Implementations are pure and safe for concurrent use; missing inputs
// score 0 rather than failing.
type Scorer interface {
	Factor() risk.Factor
	Score(tc *risk.TransactionContext) int
}

// WeightedScorer pairs a scorer with its weight in the aggregate
type WeightedScorer struct {
	Scorer Scorer
	Weight float64
}

// Default factor weights
const (
	AmountWeight     = 0.30
	BehaviorWeight   = 0.25
	VelocityWeight   = 0.20
	GeographicWeight = 0.15
	MerchantWeight   = 0.10
)

// DefaultScorers returns the standard ordered scorer configuration
func DefaultScorers(geo Geocoder) []WeightedScorer {
	return []WeightedScorer{
		{Scorer: NewAmountScorer(geo), Weight: AmountWeight},
		{Scorer: BehaviorScorer{}, Weight: BehaviorWeight},
		{Scorer: VelocityScorer{}, Weight: VelocityWeight},
		{Scorer: NewGeographicScorer(geo), Weight: GeographicWeight},
		{Scorer: MerchantScorer{}, Weight: MerchantWeight},
	}
}

// Weights overrides the weights of a scorer list by factor, keeping order.
func Weights(scorers []WeightedScorer, weights map[risk.Factor]float64) []WeightedScorer {
	out := make([]WeightedScorer, len(scorers))
	for i, ws := range scorers {
		out[i] = ws
		if w, ok := weights[ws.Scorer.Factor()]; ok {
			out[i].Weight = w
		}
	}
	return out
}
