package memory

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Power-law activation constants.
const (
	MinDecayRate     = 0.01
	MaxDecayRate     = 2.0
	DefaultDecayRate = 0.5
	DefaultNoise     = 0.1

	minElapsedHours = 1.0 / 3600.0
	minActivation   = 1e-12
)

// NoiseSource supplies standard normal samples for tie-breaking.
type NoiseSource interface {
	NormFloat64() float64
}

type zeroNoise struct{}

func (zeroNoise) NormFloat64() float64 { return 0 }

// ZeroNoise disables the noise term.
var ZeroNoise NoiseSource = zeroNoise{}

// NewSeededNoise returns a deterministic noise source.
func NewSeededNoise(seed uint64) NoiseSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ActivationStore is where a rescan reads and writes activation scores.
type ActivationStore interface {
	ActiveItems(ctx context.Context, scope Scope) ([]Item, error)
	SaveActivations(ctx context.Context, scope Scope, scores map[string]float64, at time.Time) error
}

// Scorer computes ACT-R base-level activation for stored items.
type Scorer struct {
	Sigma  float64
	Noise  NoiseSource
	Now    func() time.Time
	logger *zap.Logger
}

// NewScorer creates a scorer with the default noise level.
func NewScorer(noise NoiseSource, logger *zap.Logger) *Scorer {
	if noise == nil {
		noise = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return &Scorer{Sigma: DefaultNoise, Noise: noise, Now: time.Now, logger: logger}
}

// AccessTimes reconstructs an access history from the counters that are
// actually stored: a single access when count <= 1, otherwise count evenly
// spaced accesses between creation and the last access.
func AccessTimes(now time.Time, created, last *time.Time, count int) []time.Time {
	c := now
	if created != nil {
		c = *created
	}
	l := c
	if last != nil {
		l = *last
	}

	switch {
	case count <= 0:
		return []time.Time{c}
	case count == 1:
		return []time.Time{l}
	}

	span := l.Sub(c)
	times := make([]time.Time, count)
	if span <= 0 {
		for i := range times {
			times[i] = l
		}
		return times
	}
	for i := range times {
		frac := float64(i) / float64(count-1)
		times[i] = c.Add(time.Duration(float64(span) * frac))
	}
	return times
}

// BaseLevel returns ln(sum of elapsed_hours^-d) over the access history.
func BaseLevel(now time.Time, accesses []time.Time, decayRate float64) float64 {
	d := clamp(decayRate, MinDecayRate, MaxDecayRate)
	var total float64
	for _, t := range accesses {
		h := now.Sub(t).Hours()
		if h < minElapsedHours {
			h = minElapsedHours
		}
		total += math.Pow(h, -d)
	}
	return math.Log(math.Max(total, minActivation))
}

// Score computes one item's activation at time now.
func (s *Scorer) Score(now time.Time, it Item) float64 {
	accesses := AccessTimes(now, it.CreatedAt, it.LastAccessed, it.AccessCount)
	base := BaseLevel(now, accesses, valueOr(it.DecayRate, DefaultDecayRate))
	importance := valueOr(it.Importance, 0.5) * 2.0
	confidence := (valueOr(it.Confidence, 0.5) - 0.5) * 0.5

	var noise float64
	if s.Noise != nil && s.Sigma > 0 {
		noise = s.Noise.NormFloat64() * s.Sigma
	}
	return base + importance + confidence + noise
}

// Rank scores every item and sorts descending.
func (s *Scorer) Rank(now time.Time, items []Item) []Ranked {
	ranked := make([]Ranked, len(items))
	for i, it := range items {
		score := s.Score(now, it)
		it.ActivationScore = score
		ranked[i] = Ranked{Item: it, Score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Rescan recomputes activation for every active item in scope and writes
// the scores back. Scores from an earlier run are not reused.
func (s *Scorer) Rescan(ctx context.Context, st ActivationStore, scope Scope) ([]Ranked, error) {
	start := time.Now()
	now := s.Now().UTC()

	items, err := st.ActiveItems(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load active %s: %w", scope, err)
	}

	ranked := s.Rank(now, items)
	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scores[r.Item.ID] = r.Score
	}
	if err := st.SaveActivations(ctx, scope, scores, now); err != nil {
		return nil, fmt.Errorf("save %s activations: %w", scope, err)
	}

	if s.logger != nil {
		s.logger.Info("activation rescan complete",
			zap.String("scope", string(scope)),
			zap.Int("scored", len(ranked)),
			zap.Duration("duration", time.Since(start)))
	}
	return ranked, nil
}
