package memory

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nxclaw/nxclaw/internal/memory/embedding"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{
		RootDir:          dir,
		EmbeddingEnabled: true,
		Embedding:        embedding.Config{Provider: "local", Dimension: 32},
		ReindexDebounce:  10 * time.Millisecond,
	}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestRecordRawSkipsHealthPing(t *testing.T) {
	s := newTestStore(t)
	entry, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "ping", Source: "test"})
	if err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	if entry != nil {
		t.Error("expected health ping to be skipped")
	}
	if s.RawCount() != 0 {
		t.Errorf("expected 0 raw entries, got %d", s.RawCount())
	}
}

func TestRecordRawSkipsNearDuplicate(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "hello there", Source: "chat", CreatedAt: now}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	dup, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "hello there", Source: "chat", CreatedAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	if dup != nil {
		t.Error("expected near-duplicate to be skipped")
	}
	if s.RawCount() != 1 {
		t.Errorf("expected 1 raw entry, got %d", s.RawCount())
	}
}

func TestRecordRawDistinctContentNotDeduped(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "first message", Source: "chat", CreatedAt: now}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "second message", Source: "chat", CreatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	if s.RawCount() != 2 {
		t.Errorf("expected 2 raw entries, got %d", s.RawCount())
	}
}

func TestRecordRawWritesDailyFile(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "what's the weather", Source: "chat", CreatedAt: now}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	data, err := os.ReadFile(s.dailyPath(now))
	if err != nil {
		t.Fatalf("expected daily file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected daily file to contain content")
	}
}

func TestRecordRawWritesSessionFileWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{RootDir: dir, SessionMemoryEnabled: true, Embedding: embedding.Config{Provider: "local"}}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "session scoped", Source: "chat", SessionKey: "telegram:42"}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	if _, err := os.Stat(s.sessionPath("telegram:42")); err != nil {
		t.Errorf("expected session file to exist: %v", err)
	}
}

func TestRecordNoteMirrorsToMainFile(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordNote(Note{Title: "Preference", Content: "User prefers dark mode"}); err != nil {
		t.Fatalf("RecordNote: %v", err)
	}
	data, err := os.ReadFile(s.mainPath())
	if err != nil {
		t.Fatalf("expected main.md to exist: %v", err)
	}
	if !contains(string(data), "User prefers dark mode") {
		t.Error("expected note content in main.md")
	}
}

func TestWriteSoulAppendsAndJournals(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteSoul("learned something new", false, true); err != nil {
		t.Fatalf("WriteSoul: %v", err)
	}
	data, err := os.ReadFile(s.soulPath())
	if err != nil {
		t.Fatalf("expected SOUL.md to exist: %v", err)
	}
	if !contains(string(data), "learned something new") {
		t.Error("expected soul update in SOUL.md")
	}
	if _, err := os.Stat(s.soulJournalPath(time.Now())); err != nil {
		t.Errorf("expected soul-journal file to exist: %v", err)
	}
}

func TestWriteSoulReplace(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteSoul("first version", false, false); err != nil {
		t.Fatalf("WriteSoul: %v", err)
	}
	if err := s.WriteSoul("replaced entirely", true, false); err != nil {
		t.Fatalf("WriteSoul: %v", err)
	}
	data, err := os.ReadFile(s.soulPath())
	if err != nil {
		t.Fatalf("read SOUL.md: %v", err)
	}
	if contains(string(data), "first version") {
		t.Error("expected replace to discard prior content")
	}
	if !contains(string(data), "replaced entirely") {
		t.Error("expected replaced content")
	}

	journalData, err := os.ReadFile(s.soulJournalPath(time.Now()))
	if err != nil {
		t.Fatalf("expected soul-journal snapshot to exist: %v", err)
	}
	if !contains(string(journalData), "first version") {
		t.Error("expected discarded text to be snapshotted into the soul-journal")
	}
}

func TestWriteSoulReplaceOfEmptySoulSkipsSnapshot(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteSoul("fresh identity", true, false); err != nil {
		t.Fatalf("WriteSoul: %v", err)
	}
	if _, err := os.Stat(s.soulJournalPath(time.Now())); !os.IsNotExist(err) {
		t.Errorf("expected no soul-journal file when there was nothing to discard, got err=%v", err)
	}
}

func TestReindexAndSearchFindsMatch(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordNote(Note{Title: "Deployment", Content: "The production database runs on postgres version 15"}); err != nil {
		t.Fatalf("RecordNote: %v", err)
	}
	if err := s.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	results, err := s.Search(context.Background(), "postgres database version", 5, SearchOptions{Mode: ModeGlobal})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
}

func TestSearchSessionStrictExcludesOtherSessions(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{RootDir: dir, SessionMemoryEnabled: true, EmbeddingEnabled: true, Embedding: embedding.Config{Provider: "local", Dimension: 32}}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "my favorite programming language is rust", Source: "chat", SessionKey: "session-a"}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "my favorite programming language is go", Source: "chat", SessionKey: "session-b"}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	if err := s.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	results, err := s.Search(context.Background(), "favorite programming language", 5, SearchOptions{SessionKey: "session-a", Mode: ModeSessionStrict})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if contains(r.Text, "is go") {
			t.Error("session-strict search leaked session-b's content into session-a's results")
		}
	}
}

func TestCompactMovesOldestBatch(t *testing.T) {
	s := newTestStore(t)
	s.cfg.CompactionKeepLast = 2
	s.cfg.CompactionBatch = 3

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := s.RecordRaw(RawEntry{
			Actor:     ActorUser,
			Content:   "message number distinct " + string(rune('a'+i)),
			Source:    "chat",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordRaw: %v", err)
		}
	}

	note, err := s.Compact(CompactReasonExplicit)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if note == nil {
		t.Fatal("expected a compaction note")
	}
	if note.CompactedCount != 3 {
		t.Errorf("expected 3 entries compacted, got %d", note.CompactedCount)
	}
	if s.RawCount() != 2 {
		t.Errorf("expected 2 entries remaining, got %d", s.RawCount())
	}
}

func TestCompactNoopBelowKeepLast(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordRaw(RawEntry{Actor: ActorUser, Content: "just one", Source: "chat"}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	note, err := s.Compact(CompactReasonExplicit)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if note != nil {
		t.Error("expected no-op compaction below keep-last threshold")
	}
}

func TestBuildWorkingMemoryIncludesMainExcerpts(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordNote(Note{Title: "Fact", Content: "The office closes at 6pm on Fridays"}); err != nil {
		t.Fatalf("RecordNote: %v", err)
	}
	if err := s.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	wm := s.BuildWorkingMemory()
	if len(wm.MainExcerpts) == 0 {
		t.Error("expected at least one main excerpt")
	}
}

func TestReopenRestoresRawCache(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{RootDir: dir, Embedding: embedding.Config{Provider: "local"}}
	s1, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s1.RecordRaw(RawEntry{Actor: ActorUser, Content: "persisted across restart", Source: "chat"}); err != nil {
		t.Fatalf("RecordRaw: %v", err)
	}
	s1.Close()

	s2, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.RawCount() != 1 {
		t.Errorf("expected reopened store to have 1 raw entry, got %d", s2.RawCount())
	}
}

func TestEmbeddingCacheReusedAcrossReindex(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordNote(Note{Title: "A", Content: "stable content for caching"}); err != nil {
		t.Fatalf("RecordNote: %v", err)
	}
	if err := s.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	s.mu.Lock()
	cacheSize := len(s.idx.EmbeddingCache)
	s.mu.Unlock()
	if cacheSize == 0 {
		t.Fatal("expected embedding cache to be populated")
	}

	if err := s.Reindex(context.Background()); err != nil {
		t.Fatalf("second Reindex: %v", err)
	}
	s.mu.Lock()
	secondSize := len(s.idx.EmbeddingCache)
	s.mu.Unlock()
	if secondSize != cacheSize {
		t.Errorf("expected embedding cache size to stay stable across reindex, got %d then %d", cacheSize, secondSize)
	}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
