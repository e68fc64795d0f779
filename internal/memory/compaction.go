package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// CompactReason records why a compaction ran, for the emitted event and the
// written summary note.
type CompactReason string

const (
	CompactReasonThreshold CompactReason = "threshold"
	CompactReasonExplicit  CompactReason = "explicit"
)

// Compact moves the oldest batch of raw entries (beyond CompactionKeepLast
// most-recent ones) into a long-term summary note, first flushing salient
// keywords and importance-matched entries into the daily and long-term
// files, then rewriting the raw log without the moved batch.
func (s *Store) Compact(reason CompactReason) (*Note, error) {
	s.mu.Lock()
	all := append([]RawEntry(nil), s.rawCache...)
	s.mu.Unlock()

	if len(all) <= s.cfg.CompactionKeepLast {
		return nil, nil
	}

	batchSize := s.cfg.CompactionBatch
	available := len(all) - s.cfg.CompactionKeepLast
	if batchSize > available {
		batchSize = available
	}
	if batchSize <= 0 {
		return nil, nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	batch := all[:batchSize]
	remaining := all[batchSize:]

	s.flushSalient(batch)

	summary := summarizeBatch(batch, reason, s.isImportant)
	now := time.Now()
	note := Note{
		ID:             newID("compact"),
		Title:          fmt.Sprintf("Compacted %d entries (%s)", len(batch), reason),
		Content:        summary,
		Source:         "compaction",
		CreatedAt:      now,
		CompactedRange: fmt.Sprintf("%s..%s", batch[0].CreatedAt.Format(time.RFC3339), batch[len(batch)-1].CreatedAt.Format(time.RFC3339)),
		CompactedCount: len(batch),
	}

	mdPath := s.path(fmt.Sprintf("compact-%s.md", now.Format("20060102-150405")))
	if err := fsutil.WriteFileAtomic(mdPath, []byte(summary), 0o600); err != nil {
		return nil, err
	}
	note.MarkdownPath = mdPath

	if _, err := s.RecordNote(note); err != nil {
		return nil, err
	}
	if err := s.WriteSoul(fmt.Sprintf("Compacted %d conversation entries into long-term memory.", len(batch)), false, true); err != nil {
		return nil, err
	}

	if err := s.rewriteRawLogLocked(remaining); err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Emit(eventbus.TypeMemoryCompacted, note)
	}

	if err := s.Reindex(context.Background()); err != nil {
		return &note, err
	}
	return &note, nil
}

// flushSalient writes importance-matched entries into today's daily file
// and the long-term main file before they are removed from the raw log, so
// the signal they carried survives compaction even if the summary misses
// it.
func (s *Store) flushSalient(batch []RawEntry) {
	var keywords []string
	var keyEvents []string
	for _, e := range batch {
		if s.isImportant(e.Content) {
			keyEvents = append(keyEvents, oneLine(e.Content))
		}
		keywords = append(keywords, topKeywords(e.Content, 3)...)
	}
	if len(keyEvents) == 0 && len(keywords) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n## Memory flush %s\n\n", time.Now().Format("2006-01-02 15:04")))
	if len(keyEvents) > 0 {
		b.WriteString("Key events:\n")
		for _, ev := range dedupeStrings(keyEvents) {
			b.WriteString("- " + ev + "\n")
		}
	}
	if len(keywords) > 0 {
		b.WriteString("Keywords: " + strings.Join(dedupeStrings(keywords), ", ") + "\n")
	}
	_ = fsutil.AppendLine(s.dailyPath(time.Now()), b.String())
	_ = fsutil.AppendLine(s.mainPath(), b.String())
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func topKeywords(text string, n int) []string {
	toks := tokenize(text)
	if len(toks) > n {
		toks = toks[:n]
	}
	return toks
}

// summarizeBatch builds a deterministic textual summary: reason, range,
// per-actor counts, top keywords, and key events. No LLM call is involved —
// the orchestrator's own prompt compaction is a separate concern from this
// at-rest summary.
func summarizeBatch(batch []RawEntry, reason CompactReason, isImportant func(string) bool) string {
	counts := map[Actor]int{}
	var keywords []string
	var keyEvents []string
	for _, e := range batch {
		counts[e.Actor]++
		keywords = append(keywords, topKeywords(e.Content, 5)...)
		if isImportant(e.Content) {
			keyEvents = append(keyEvents, oneLine(e.Content))
		}
	}
	keywords = dedupeStrings(keywords)
	if len(keywords) > 20 {
		keywords = keywords[:20]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	fmt.Fprintf(&b, "Range: %s .. %s\n", batch[0].CreatedAt.Format(time.RFC3339), batch[len(batch)-1].CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Actor counts: user=%d assistant=%d\n", counts[ActorUser], counts[ActorAssistant])
	if len(keywords) > 0 {
		fmt.Fprintf(&b, "Top keywords: %s\n", strings.Join(keywords, ", "))
	}
	if len(keyEvents) > 0 {
		b.WriteString("Key events:\n")
		for _, ev := range keyEvents {
			b.WriteString("- " + ev + "\n")
		}
	}
	return b.String()
}

// rewriteRawLogLocked atomically rewrites the raw JSONL log to contain only
// remaining, swapping the in-memory cache under lock.
func (s *Store) rewriteRawLogLocked(remaining []RawEntry) error {
	var b strings.Builder
	for _, e := range remaining {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if err := fsutil.WriteFileAtomic(s.rawLogPath(), []byte(b.String()), 0o600); err != nil {
		return err
	}
	s.mu.Lock()
	s.rawCache = remaining
	s.mu.Unlock()
	return nil
}
