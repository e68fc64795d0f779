// Package embedding provides the memory store's text-to-vector providers:
// remote OpenAI/Gemini-compatible HTTP endpoints and a local deterministic
// fallback, all producing unit-normalized vectors of a configured dimension.
package embedding

import "context"

// Provider turns text into a fixed-dimension, unit-normalized vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// Config selects and parameterizes a Provider.
type Config struct {
	// Explicit provider name: "openai", "gemini", or "local". Empty means
	// auto-select from whichever API key is present, else local.
	Provider string

	Dimension int

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
}

const defaultDimension = 256

// Select builds the Provider named by cfg.Provider, or auto-selects one in
// the order OpenAI key present, then Gemini key present, then local.
func Select(cfg Config) Provider {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = defaultDimension
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, dim)
	case "gemini":
		return NewGemini(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel, dim)
	case "local":
		return NewLocal(dim)
	}

	if cfg.OpenAIAPIKey != "" {
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, dim)
	}
	if cfg.GeminiAPIKey != "" {
		return NewGemini(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel, dim)
	}
	return NewLocal(dim)
}

// Normalize scales v to unit length in place, leaving an all-zero vector
// untouched.
func Normalize(v []float32) {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return
	}
	norm := sqrt(sumSq)
	for i := range v {
		v[i] /= norm
	}
}

// CosineSimilarity returns a non-negative similarity in [0,1] for two
// unit-normalized vectors of equal length (0 on mismatch or zero vectors,
// negative dot products clamped to 0 since relatedness, not opposition, is
// what search ranks on).
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	if dot < 0 {
		return 0
	}
	return dot
}

func sqrt(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}
