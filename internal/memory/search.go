package memory

import (
	"context"
	"sort"

	"github.com/nxclaw/nxclaw/internal/memory/embedding"
)

// SearchMode scopes a search to session-local corpora or the full corpus.
type SearchMode string

const (
	ModeGlobal        SearchMode = "global"
	ModeSessionStrict SearchMode = "session_strict"
)

// SearchOptions parameterizes Search.
type SearchOptions struct {
	SessionKey string
	Mode       SearchMode
}

// SearchResult is one ranked chunk (or in-memory raw entry, for
// session-strict mode) returned from a search.
type SearchResult struct {
	Text       string     `json:"text"`
	SourceType SourceType `json:"sourceType"`
	Path       string     `json:"path,omitempty"`
	Score      float64    `json:"score"`
}

// Search performs the hybrid BM25+vector search described for the memory
// store: combined score = textWeight·BM25 + vectorWeight·cosine +
// sourceBoost[sourceType], filtered to results at or above MinScore.
func (s *Store) Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]SearchResult, error) {
	queryTokens := tokenize(query)

	s.mu.Lock()
	chunks := append([]Chunk(nil), s.idx.Chunks...)
	cfg := s.cfg
	s.mu.Unlock()

	eligible := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !sessionEligible(c, opts) {
			continue
		}
		eligible = append(eligible, c)
	}

	var queryVec []float32
	if cfg.EmbeddingEnabled {
		v, err := s.embed.Embed(ctx, query)
		if err == nil {
			queryVec = v
		}
	}

	stats := buildBM25Stats(eligible)

	type scored struct {
		chunk Chunk
		score float64
	}
	results := make([]scored, 0, len(eligible))
	for i, c := range eligible {
		textScore := stats.score(queryTokens, i)
		var vecScore float64
		if queryVec != nil && len(c.Vector) > 0 {
			vecScore = float64(embedding.CosineSimilarity(queryVec, c.Vector))
		}
		boost := cfg.SourceBoost[c.SourceType]
		combined := cfg.TextWeight*normalizeBM25(textScore) + cfg.VectorWeight*vecScore + boost
		if combined < cfg.MinScore {
			continue
		}
		results = append(results, scored{chunk: c, score: combined})
	}

	if opts.Mode == ModeSessionStrict && opts.SessionKey != "" {
		for _, e := range s.RecentRaw(opts.SessionKey, 50) {
			results = append(results, scored{
				chunk: Chunk{Text: e.Content, SourceType: SourceRaw, SessionKey: e.SessionKey},
				score: cfg.MinScore, // raw in-session turns are always eligible, at floor relevance
			})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if limit <= 0 {
		limit = 8
	}
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{Text: r.chunk.Text, SourceType: r.chunk.SourceType, Path: r.chunk.Path, Score: r.score}
	}
	return out, nil
}

// normalizeBM25 squashes an unbounded BM25 score into roughly [0,1] via a
// saturating curve, so it combines sensibly with the already-bounded cosine
// term instead of dominating or vanishing depending on corpus size.
func normalizeBM25(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return x / (x + 2.0)
}

// sessionEligible implements the session-scoping rules: in session_strict
// mode only the exact session's own file (and the general, non-session
// corpora excluded — compact/soul) is eligible; in global mode with a
// sessionKey set, other sessions' files are excluded but the session's own
// file and the rest of the corpus remain eligible.
func sessionEligible(c Chunk, opts SearchOptions) bool {
	if opts.Mode == ModeSessionStrict && opts.SessionKey != "" {
		return c.SourceType == SourceSession && c.SessionKey == opts.SessionKey
	}

	if opts.SessionKey != "" && c.SourceType == SourceSession {
		return c.SessionKey == opts.SessionKey
	}
	return true
}
