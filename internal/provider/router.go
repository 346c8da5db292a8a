package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Binding pins a tier to a provider and model.
type Binding struct {
	ProviderID string `json:"provider" yaml:"provider"`
	Model      string `json:"model" yaml:"model"`
}

// Router holds the registered providers and routes each tier to its bound
// provider, trying fallbacks in order when it fails.
type Router struct {
	providers map[string]Provider
	bindings  map[Tier]Binding
	fallbacks map[Tier][]Binding
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[Tier]Binding),
		fallbacks: make(map[Tier][]Binding),
		logger:    logger,
	}
}

// Register adds a provider. The first one registered becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the provider used by unbound tiers.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind pins a tier to a provider and model.
func (r *Router) Bind(tier Tier, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[tier] = b
}

// SetFallbacks configures the fallback chain for a tier.
func (r *Router) SetFallbacks(tier Tier, chain []Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[tier] = chain
}

// Route sends req through the tier's provider. An empty req.Model takes the
// bound model.
func (r *Router) Route(ctx context.Context, tier Tier, req *ChatRequest) (*ChatResponse, error) {
	type target struct {
		p Provider
		b Binding
	}
	r.mu.RLock()
	primary, ok := r.bindings[tier]
	if !ok {
		primary = Binding{ProviderID: r.defaults}
	}
	var chain []target
	for _, b := range append([]Binding{primary}, r.fallbacks[tier]...) {
		if p, ok := r.providers[b.ProviderID]; ok {
			chain = append(chain, target{p: p, b: b})
		}
	}
	r.mu.RUnlock()

	var lastErr error
	for i, t := range chain {
		attempt := *req
		if attempt.Model == "" || i > 0 {
			attempt.Model = t.b.Model
		}
		resp, err := t.p.Chat(ctx, &attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		r.logger.Warn("provider failed",
			zap.String("tier", string(tier)),
			zap.String("provider", t.b.ProviderID),
			zap.Int("attempt", i+1),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("no provider available for tier %s", tier)
	}
	return nil, fmt.Errorf("all providers failed for tier %s: %w", tier, lastErr)
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}
