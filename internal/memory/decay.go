package memory

import (
	"math"
	"time"
)

// Strategy scores an item for query-time ranking.
type Strategy interface {
	Score(now time.Time, it Item) float64
}

// ExponentialRecency is the query-time decay model: importance weighted by
// exponential recency and log access frequency. It is intentionally not the
// power-law model the Scorer uses for batch activation.
type ExponentialRecency struct {
	// MissingRecency is the recency factor for never-accessed items.
	MissingRecency float64
}

// DefaultRecency returns the retriever's default strategy.
func DefaultRecency() ExponentialRecency {
	return ExponentialRecency{MissingRecency: 0.5}
}

// Score computes importance * exp(-d * days_since_access) * ln(count+1).
func (e ExponentialRecency) Score(now time.Time, it Item) float64 {
	recency := e.MissingRecency
	if it.LastAccessed != nil {
		seconds := now.Sub(*it.LastAccessed).Seconds()
		recency = math.Exp(-valueOr(it.DecayRate, DefaultDecayRate) * seconds / 86400)
	}
	count := it.AccessCount
	if count < 1 {
		count = 1
	}
	freq := math.Log(float64(count) + 1)
	return valueOr(it.Importance, 0) * recency * freq
}
