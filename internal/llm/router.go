package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Router implements Client by routing to the best available provider:
// providers are tried in insertion order (the configured default
// credential family first, fallbacks after), skipping any that are
// unavailable, don't support the requested model, or have an open
// circuit breaker.
type Router struct {
	mu        sync.RWMutex
	providers []Provider
	stats     map[string]*providerStats
	breakers  map[string]*CircuitBreaker
	logger    *zap.Logger
}

type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// NewRouter constructs an empty Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		stats:    make(map[string]*providerStats),
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger.With(zap.String("component", "llm-router")),
	}
}

var _ Client = (*Router)(nil)

// AddProvider appends p to the routing order.
func (r *Router) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.stats[p.Name()] = &providerStats{}
	r.breakers[p.Name()] = NewCircuitBreaker(5, 30*time.Second)
	r.logger.Info("llm provider added", zap.String("name", p.Name()), zap.Strings("models", p.Models()))
}

// Generate routes req to the first provider that supports the model, is
// available, and has a closed or half-open circuit.
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	r.mu.RLock()
	providers := make([]Provider, len(r.providers))
	copy(providers, r.providers)
	r.mu.RUnlock()

	var lastErr error
	for _, p := range providers {
		if !p.SupportsModel(req.Model) {
			continue
		}
		if !p.IsAvailable(ctx) {
			r.logger.Debug("provider unavailable, skipping", zap.String("provider", p.Name()))
			continue
		}

		r.mu.RLock()
		cb := r.breakers[p.Name()]
		r.mu.RUnlock()
		if cb != nil && !cb.Allow() {
			r.logger.Debug("provider circuit open, skipping", zap.String("provider", p.Name()))
			continue
		}

		start := time.Now()
		resp, err := p.Generate(ctx, req)
		latency := time.Since(start)

		r.mu.Lock()
		if s, ok := r.stats[p.Name()]; ok {
			s.TotalCalls++
			s.LastLatency = latency
			if err != nil {
				s.FailureCount++
			}
		}
		r.mu.Unlock()

		if err != nil {
			if cb != nil {
				cb.RecordFailure()
			}
			lastErr = err
			r.logger.Warn("provider failed, trying next", zap.String("provider", p.Name()), zap.Duration("latency", latency), zap.Error(err))
			continue
		}

		if cb != nil {
			cb.RecordSuccess()
		}
		r.logger.Debug("provider succeeded", zap.String("provider", p.Name()), zap.Duration("latency", latency), zap.Int("tokens", resp.TokensUsed))
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("llm: all providers failed, last error: %w", lastErr)
	}
	return nil, fmt.Errorf("llm: no provider available for model %q", req.Model)
}

// ProviderStatus summarizes one provider's health for the dashboard.
type ProviderStatus struct {
	Name          string   `json:"name"`
	Models        []string `json:"models"`
	Available     bool     `json:"available"`
	TotalCalls    int64    `json:"total_calls"`
	FailureCount  int64    `json:"failure_count"`
	LastLatencyMs float64  `json:"last_latency_ms"`
	CircuitState  string   `json:"circuit_state"`
}

// ListProviders reports the current health of every registered provider.
func (r *Router) ListProviders(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		ps := ProviderStatus{Name: p.Name(), Models: p.Models(), Available: p.IsAvailable(ctx)}
		if s, ok := r.stats[p.Name()]; ok {
			ps.TotalCalls = s.TotalCalls
			ps.FailureCount = s.FailureCount
			ps.LastLatencyMs = float64(s.LastLatency) / float64(time.Millisecond)
		}
		if cb, ok := r.breakers[p.Name()]; ok {
			ps.CircuitState = cb.State().String()
		}
		out = append(out, ps)
	}
	return out
}
