// Package llm provides the runtime's completion abstraction: a provider
// registry, a circuit-breaker-guarded router that fails over across
// providers, and a thin Session used by the orchestrator to turn a single
// composed prompt into a reply.
package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Message is one turn in a completion request.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request is sent to a Provider for a single completion.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Response is a provider's completion result.
type Response struct {
	Content    string `json:"content"`
	ModelUsed  string `json:"model_used"`
	TokensUsed int    `json:"tokens_used"`
}

// Client is the interface the orchestrator and router program against.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Provider is an infrastructure-layer completion backend: an
// authenticated credential family (gemini-cli, openai-codex, anthropic,
// or any OpenAI-compatible endpoint) bound to a set of supported models.
type Provider interface {
	Client

	Name() string
	Models() []string
	SupportsModel(model string) bool
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "openai" (default) | "anthropic" | "gemini"
	BaseURL  string   `json:"base_url"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models"`
	Priority int      `json:"priority"`
}

// ProviderFactory builds a Provider from config. Concrete providers
// register themselves via init() in their own package.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory under typeName.
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider instantiates a Provider using the factory registered for
// cfg.Type, defaulting to "openai" when unset.
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()
	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("llm: unknown provider type %q (available: %v)", t, available)
	}
	return factory(cfg, logger), nil
}
