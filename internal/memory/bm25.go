package memory

import (
	"math"
	"regexp"
	"strings"
)

const (
	bm25K1 = 1.4
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "of": true, "to": true,
	"and": true, "in": true, "on": true, "for": true, "it": true, "that": true,
	"this": true, "with": true, "as": true, "at": true, "by": true, "be": true,
	"are": true, "was": true, "were": true, "or": true, "but": true,
}

// tokenize lowercases, splits on non-alphanumerics, and drops stop words and
// tokens shorter than 3 characters.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(matches))
	for _, tok := range matches {
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// bm25Stats holds the corpus-level term statistics a search pass needs:
// per-document term frequency, per-document length, and document frequency
// per term across the whole chunk set.
type bm25Stats struct {
	termFreq  []map[string]int // per chunk index
	docLen    []int            // per chunk index
	docFreq   map[string]int
	avgDocLen float64
	docCount  int
}

func buildBM25Stats(chunks []Chunk) *bm25Stats {
	stats := &bm25Stats{
		termFreq: make([]map[string]int, len(chunks)),
		docLen:   make([]int, len(chunks)),
		docFreq:  make(map[string]int),
		docCount: len(chunks),
	}

	var totalLen int
	for i, c := range chunks {
		toks := tokenize(c.Text)
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		stats.termFreq[i] = tf
		stats.docLen[i] = len(toks)
		totalLen += len(toks)
		for term := range tf {
			stats.docFreq[term]++
		}
	}
	if stats.docCount > 0 {
		stats.avgDocLen = float64(totalLen) / float64(stats.docCount)
	}
	return stats
}

// score computes the Okapi BM25 score of query tokens against chunk index i.
func (b *bm25Stats) score(queryTokens []string, i int) float64 {
	if b.docCount == 0 || b.avgDocLen == 0 {
		return 0
	}
	tf := b.termFreq[i]
	dl := float64(b.docLen[i])

	var total float64
	for _, term := range queryTokens {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := b.docFreq[term]
		idf := math.Log(1 + (float64(b.docCount)-float64(df)+0.5)/(float64(df)+0.5))
		num := f * (bm25K1 + 1)
		den := f + bm25K1*(1-bm25B+bm25B*dl/b.avgDocLen)
		total += idf * num / den
	}
	return total
}
