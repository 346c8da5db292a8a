package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultRetrieveLimit is the result size when a query does not set one.
const DefaultRetrieveLimit = 5

// Query selects memories for one request.
type Query struct {
	AgentID string
	// Keywords filters strictly: no match means no results.
	Keywords []string
	// Legacy is the single free-text query. When none of its tokens match,
	// the unfiltered ranking is returned instead.
	Legacy string
	Limit  int
	// Touch records an access on every returned item.
	Touch bool
}

// Source yields retrieval candidates.
type Source interface {
	MemoriesFor(ctx context.Context, owners []string) ([]Item, error)
	TouchMemories(ctx context.Context, ids []string, at time.Time) error
}

// Retriever ranks an agent's memories plus the shared namespace.
type Retriever struct {
	source   Source
	strategy Strategy
	shared   string
	Now      func() time.Time
	logger   *zap.Logger
}

// NewRetriever creates a retriever over src. An empty namespace means
// SharedNamespace.
func NewRetriever(src Source, namespace string, logger *zap.Logger) *Retriever {
	if namespace == "" {
		namespace = SharedNamespace
	}
	return &Retriever{
		source:   src,
		strategy: DefaultRecency(),
		shared:   namespace,
		Now:      time.Now,
		logger:   logger,
	}
}

// Retrieve returns the top ranked memories for q.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Ranked, error) {
	owners := []string{q.AgentID}
	if r.shared != q.AgentID {
		owners = append(owners, r.shared)
	}
	items, err := r.source.MemoriesFor(ctx, owners)
	if err != nil {
		return nil, fmt.Errorf("load memories for %s: %w", q.AgentID, err)
	}

	now := r.Now().UTC()
	ranked := make([]Ranked, len(items))
	for i, it := range items {
		ranked[i] = Ranked{Item: it, Score: r.strategy.Score(now, it)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	ranked = filterRanked(ranked, q)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	if q.Touch && len(ranked) > 0 {
		ids := make([]string, len(ranked))
		for i, rk := range ranked {
			ids[i] = rk.Item.ID
		}
		if err := r.source.TouchMemories(ctx, ids, now); err != nil {
			return nil, fmt.Errorf("touch memories: %w", err)
		}
	}

	if r.logger != nil {
		r.logger.Debug("retrieved memories",
			zap.String("agent", q.AgentID),
			zap.Int("candidates", len(items)),
			zap.Int("returned", len(ranked)))
	}
	return ranked, nil
}

// filterRanked applies the keyword rules. A keyword list wins over the
// legacy query and never falls back; the legacy query falls back to the
// unfiltered ranking when nothing matches.
func filterRanked(ranked []Ranked, q Query) []Ranked {
	if len(q.Keywords) > 0 {
		var terms []string
		for _, k := range q.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				terms = append(terms, k)
			}
		}
		return matchAny(ranked, terms)
	}
	if q.Legacy != "" {
		filtered := matchAny(ranked, strings.Fields(strings.ToLower(q.Legacy)))
		if len(filtered) > 0 {
			return filtered
		}
	}
	return ranked
}

func matchAny(ranked []Ranked, terms []string) []Ranked {
	out := make([]Ranked, 0, len(ranked))
	for _, rk := range ranked {
		content := strings.ToLower(rk.Item.Content)
		for _, t := range terms {
			if strings.Contains(content, t) {
				out = append(out, rk)
				break
			}
		}
	}
	return out
}
