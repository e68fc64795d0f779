package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// Local is a deterministic, dependency-free embedder: each token is hashed
// into a bucket of a fixed-dimension vector, which is then unit-normalized.
// It needs no network access and produces the same vector for the same text
// every time, which keeps the embedding cache and the on-disk index stable
// across restarts without a remote provider configured.
type Local struct {
	dimension int
}

// NewLocal constructs a Local embedder of the given dimension.
func NewLocal(dimension int) *Local {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Local{dimension: dimension}
}

func (l *Local) Name() string   { return "local" }
func (l *Local) Dimension() int { return l.dimension }

func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % l.dimension
		if idx < 0 {
			idx += l.dimension
		}
		vec[idx] += 1.0
	}
	Normalize(vec)
	return vec, nil
}

func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
