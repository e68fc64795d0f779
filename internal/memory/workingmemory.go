package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// WorkingMemory is the short, bounded context the orchestrator injects into
// every prompt: recent long-term excerpts, a SOUL summary, and the last
// couple of days' daily-log excerpts.
type WorkingMemory struct {
	MainExcerpts  []string `json:"mainExcerpts"`
	SoulSummaries []string `json:"soulSummaries"`
	DailyExcerpts []string `json:"dailyExcerpts"`
}

const (
	maxMainExcerpts  = 4
	maxSoulSummaries = 3
	maxDailyExcerpts = 6
)

// BuildWorkingMemory assembles the bounded working-memory snapshot. Main
// excerpts come from the current index contents (none until the index has
// been built); SOUL sections and daily excerpts are read directly from
// their markdown files.
func (s *Store) BuildWorkingMemory() WorkingMemory {
	s.mu.Lock()
	chunks := append([]Chunk(nil), s.idx.Chunks...)
	s.mu.Unlock()

	wm := WorkingMemory{}
	for _, c := range chunks {
		if c.SourceType == SourceMain && len(wm.MainExcerpts) < maxMainExcerpts {
			wm.MainExcerpts = append(wm.MainExcerpts, excerpt(c.Text, 400))
		}
	}

	soulSections := splitSoulSections(s.soulPath())
	for i := len(soulSections) - 1; i >= 0 && len(wm.SoulSummaries) < maxSoulSummaries; i-- {
		wm.SoulSummaries = append(wm.SoulSummaries, excerpt(soulSections[i], 300))
	}

	today := time.Now()
	yesterday := today.AddDate(0, 0, -1)
	for _, day := range []time.Time{today, yesterday} {
		lines, err := readFileLines(s.dailyPath(day))
		if err != nil || len(lines) == 0 {
			continue
		}
		for _, block := range splitHeadingBlocks(lines) {
			if len(wm.DailyExcerpts) >= maxDailyExcerpts {
				break
			}
			wm.DailyExcerpts = append(wm.DailyExcerpts, excerpt(block, 300))
		}
	}

	return wm
}

func excerpt(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}

func splitSoulSections(path string) []string {
	lines, err := readFileLines(path)
	if err != nil {
		return nil
	}
	return splitHeadingBlocks(lines)
}

func splitHeadingBlocks(lines []string) []string {
	var blocks []string
	var cur []string
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") && len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, strings.Join(cur, "\n"))
	}
	return blocks
}

func readFileLines(path string) ([]string, error) {
	var lines []string
	err := fsutil.ReadLines(path, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

// WorkingMemoryPreview formats wm as a short text block suitable for direct
// prompt inclusion.
func WorkingMemoryPreview(wm WorkingMemory) string {
	var b strings.Builder
	if len(wm.MainExcerpts) > 0 {
		b.WriteString("Long-term notes:\n")
		for _, e := range wm.MainExcerpts {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if len(wm.SoulSummaries) > 0 {
		b.WriteString("Identity notes:\n")
		for _, e := range wm.SoulSummaries {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if len(wm.DailyExcerpts) > 0 {
		b.WriteString("Recent activity:\n")
		for _, e := range wm.DailyExcerpts {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}
