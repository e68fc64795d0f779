package memory

import (
	"bufio"
	"os"
	"strings"
)

// SourceType classifies which corpus a chunk came from, used for
// session-strict filtering and per-source score boosts.
type SourceType string

const (
	SourceMain    SourceType = "memory_main"
	SourceDaily   SourceType = "memory_daily"
	SourceSession SourceType = "session"
	SourceExtra   SourceType = "extra"
	SourceSoul    SourceType = "soul"
	SourceCompact SourceType = "compact"
	SourceRaw     SourceType = "raw"
)

// Chunk is one indexed, embeddable unit of markdown text.
type Chunk struct {
	ContentHash string     `json:"contentHash"`
	Text        string     `json:"text"`
	Path        string     `json:"path"`
	SourceType  SourceType `json:"sourceType"`
	SessionKey  string     `json:"sessionKey,omitempty"`
	StartLine   int        `json:"startLine"`
	EndLine     int        `json:"endLine"`
	Vector      []float32  `json:"vector"`
}

const (
	sectionSplitMaxChars = 2200
	mainSlidingMaxChars  = 1400
	extraSlidingMaxChars = 1100
	slidingOverlapChars  = 180
)

// chunkFile reads path and splits it according to sourceType's chunking
// strategy: section-based (on "## " headings, with oversized sections
// further split) for daily/session files, sliding-window for everything
// else.
func chunkFile(path string, sourceType SourceType, sessionKey string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := splitLinesKeepEmpty(string(data))

	var raw []rawSpan
	switch sourceType {
	case SourceDaily, SourceSession:
		raw = splitBySections(lines)
	default:
		raw = splitSliding(lines, maxCharsFor(sourceType))
	}

	chunks := make([]Chunk, 0, len(raw))
	for _, span := range raw {
		text := strings.TrimSpace(span.text)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ContentHash: contentHash(text),
			Text:        text,
			Path:        path,
			SourceType:  sourceType,
			SessionKey:  sessionKey,
			StartLine:   span.startLine,
			EndLine:     span.endLine,
		})
	}
	return chunks, nil
}

func maxCharsFor(sourceType SourceType) int {
	if sourceType == SourceMain {
		return mainSlidingMaxChars
	}
	return extraSlidingMaxChars
}

type rawSpan struct {
	text      string
	startLine int
	endLine   int
}

func splitLinesKeepEmpty(data string) []string {
	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var out []string
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out
}

// splitBySections breaks lines on "## " headings into sections, further
// splitting any section whose text exceeds sectionSplitMaxChars into
// overlapping sliding-window pieces.
func splitBySections(lines []string) []rawSpan {
	var sections []rawSpan
	start := 0
	for i, line := range lines {
		if strings.HasPrefix(line, "## ") && i > start {
			sections = append(sections, rawSpan{
				text:      strings.Join(lines[start:i], "\n"),
				startLine: start + 1,
				endLine:   i,
			})
			start = i
		}
	}
	if start < len(lines) {
		sections = append(sections, rawSpan{
			text:      strings.Join(lines[start:], "\n"),
			startLine: start + 1,
			endLine:   len(lines),
		})
	}

	var out []rawSpan
	for _, sec := range sections {
		if len(sec.text) <= sectionSplitMaxChars {
			out = append(out, sec)
			continue
		}
		out = append(out, splitTextSliding(sec.text, sectionSplitMaxChars, slidingOverlapChars, sec.startLine, sec.endLine)...)
	}
	return out
}

// splitSliding applies a character-count sliding window with overlap across
// the whole file, irrespective of structure.
func splitSliding(lines []string, maxChars int) []rawSpan {
	text := strings.Join(lines, "\n")
	return splitTextSliding(text, maxChars, slidingOverlapChars, 1, len(lines))
}

// splitTextSliding produces overlapping windows of at most maxChars runes
// over text, tagging every window with the same line range (the outer
// section's range) since precise per-window line numbers aren't meaningful
// once split mid-section.
func splitTextSliding(text string, maxChars, overlap, startLine, endLine int) []rawSpan {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return []rawSpan{{text: text, startLine: startLine, endLine: endLine}}
	}

	var out []rawSpan
	step := maxChars - overlap
	if step <= 0 {
		step = maxChars
	}
	for i := 0; i < len(runes); i += step {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, rawSpan{text: string(runes[i:end]), startLine: startLine, endLine: endLine})
		if end == len(runes) {
			break
		}
	}
	return out
}
