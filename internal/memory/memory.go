// Package memory is the runtime's multi-layer knowledge store: an
// append-only raw conversation log, a set of markdown tiers (identity, main
// long-term, daily, per-session, soul-journal), a derived chunk index with
// hybrid BM25+vector search, and periodic compaction of the raw log into
// long-term summaries.
package memory

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/memory/embedding"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// Actor distinguishes who produced a raw conversation entry.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
)

// RawEntry is one turn of conversation, appended to the raw JSONL log and
// mirrored into the day's and (optionally) the session's markdown file.
type RawEntry struct {
	ID         string    `json:"id"`
	Actor      Actor     `json:"actor"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	SessionKey string    `json:"sessionKey,omitempty"`
}

// Note is a durable long-term fact, appended to the notes JSONL log and
// mirrored into the main long-term markdown file.
type Note struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Source         string    `json:"source"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	CompactedRange string    `json:"compactedRange,omitempty"`
	CompactedCount int       `json:"compactedCount,omitempty"`
	MarkdownPath   string    `json:"markdownPath,omitempty"`
}

// Config locates the memory store's files and tunes its behavior.
type Config struct {
	RootDir string // e.g. <home>/memory

	SessionMemoryEnabled bool

	CompactionThreshold int // trigger compaction once raw entries exceed this (default 120)
	CompactionBatch     int // default batch size moved per compaction (default 250)
	CompactionKeepLast  int // entries never compacted away (default 80)

	DuplicateWindow time.Duration // near-duplicate suppression window (default 6h)

	EmbeddingEnabled bool
	Embedding        embedding.Config

	TextWeight   float64 // default 0.35
	VectorWeight float64 // default 0.65
	MinScore     float64 // default 0.12

	SourceBoost map[SourceType]float64

	ReindexDebounce time.Duration // default ~1.2s

	HealthPingPatterns []string
	ImportanceKeywords []string
}

func (c *Config) applyDefaults() {
	if c.CompactionThreshold <= 0 {
		c.CompactionThreshold = 120
	}
	if c.CompactionBatch <= 0 {
		c.CompactionBatch = 250
	}
	if c.CompactionKeepLast <= 0 {
		c.CompactionKeepLast = 80
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 6 * time.Hour
	}
	if c.TextWeight <= 0 && c.VectorWeight <= 0 {
		c.TextWeight, c.VectorWeight = 0.35, 0.65
	}
	sum := c.TextWeight + c.VectorWeight
	if sum > 0 {
		c.TextWeight /= sum
		c.VectorWeight /= sum
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.12
	}
	if c.ReindexDebounce <= 0 {
		c.ReindexDebounce = 1200 * time.Millisecond
	}
	if c.SourceBoost == nil {
		c.SourceBoost = defaultSourceBoost()
	}
	if len(c.HealthPingPatterns) == 0 {
		c.HealthPingPatterns = []string{"^ping$", "^pong$", "^/health$", "^ok$"}
	}
	if len(c.ImportanceKeywords) == 0 {
		c.ImportanceKeywords = []string{"remember", "important", "always", "never", "prefer", "deadline", "decision"}
	}
}

// Store is the memory manager: it owns the on-disk files and the derived
// chunk index, and serializes writes and compaction through a single mutex
// (reads copy the index snapshot under that mutex and work on the copy).
type Store struct {
	mu  sync.Mutex
	cfg Config

	bus    *eventbus.Bus
	logger *zap.Logger
	embed  embedding.Provider

	rawCache      []RawEntry // recent raw entries kept in memory between loads
	recentByActor map[string]time.Time

	idx *Index

	healthPing []*regexp.Regexp
	importance []*regexp.Regexp

	watcher *watchState
}

func defaultSourceBoost() map[SourceType]float64 {
	return map[SourceType]float64{
		SourceSoul:    0.08,
		SourceCompact: 0.05,
		SourceMain:    0.03,
	}
}

// New constructs a Store rooted at cfg.RootDir, loading any persisted index
// and starting the filesystem watch. bus and logger may be nil.
func New(cfg Config, bus *eventbus.Bus, logger *zap.Logger) (*Store, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fsutil.EnsureDir(cfg.RootDir); err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(filepath.Join(cfg.RootDir, "sessions")); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:           cfg,
		bus:           bus,
		logger:        logger.With(zap.String("component", "memory")),
		embed:         embedding.Select(cfg.Embedding),
		recentByActor: make(map[string]time.Time),
	}
	for _, p := range cfg.HealthPingPatterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			s.healthPing = append(s.healthPing, re)
		}
	}
	for _, p := range cfg.ImportanceKeywords {
		if re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(p)); err == nil {
			s.importance = append(s.importance, re)
		}
	}

	idx, err := loadIndex(s.indexPath())
	if err != nil {
		return nil, err
	}
	s.idx = idx

	if err := s.loadRawCache(); err != nil {
		return nil, err
	}

	s.startWatch()
	return s, nil
}

// loadRawCache replays the raw JSONL log into the in-memory cache so
// RawCount, duplicate detection, and session-strict search work immediately
// after a restart instead of only once new entries arrive.
func (s *Store) loadRawCache() error {
	var entries []RawEntry
	err := fsutil.ReadLines(s.rawLogPath(), func(line string) error {
		var e RawEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil // tolerate a corrupt trailing line rather than failing startup
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return err
	}
	if len(entries) > 2000 {
		entries = entries[len(entries)-2000:]
	}
	s.rawCache = entries
	for _, e := range entries {
		key := string(e.Actor) + "|" + e.Source
		if last, ok := s.recentByActor[key]; !ok || e.CreatedAt.After(last) {
			s.recentByActor[key] = e.CreatedAt
		}
	}
	return nil
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.cfg.RootDir}, parts...)...)
}

func (s *Store) indexPath() string    { return s.path("index.json") }
func (s *Store) rawLogPath() string   { return s.path("raw.jsonl") }
func (s *Store) notesLogPath() string { return s.path("notes.jsonl") }
func (s *Store) identityPath() string { return s.path("identity.md") }
func (s *Store) mainPath() string     { return s.path("main.md") }
func (s *Store) soulPath() string     { return s.path("SOUL.md") }
func (s *Store) dailyPath(t time.Time) string {
	return s.path(fmt.Sprintf("daily-%s.md", t.Format("2006-01-02")))
}
func (s *Store) soulJournalPath(t time.Time) string {
	return s.path("soul-journal", fmt.Sprintf("%s.md", t.Format("2006-01-02")))
}
func (s *Store) sessionPath(sessionKey string) string {
	return s.path("sessions", fsutil.SafeSessionKey(sessionKey)+".md")
}

// isHealthPing reports whether content matches one of the configured
// health-check patterns, which are never recorded as raw entries.
func (s *Store) isHealthPing(content string) bool {
	trimmed := strings.TrimSpace(content)
	for _, re := range s.healthPing {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// isImportant reports whether content matches one of the configured
// importance keywords, gating soul-journal mirroring and pre-compaction
// salience extraction.
func (s *Store) isImportant(content string) bool {
	for _, re := range s.importance {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

func contentHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func newID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// RecordRaw appends a conversation turn. It is skipped as a no-op (no error)
// when content is a recognized health ping, or a near-duplicate of the same
// actor+source within the configured duplicate window.
func (s *Store) RecordRaw(entry RawEntry) (*RawEntry, error) {
	if s.isHealthPing(entry.Content) {
		return nil, nil
	}
	if entry.ID == "" {
		entry.ID = newID("raw")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	s.mu.Lock()
	dupKey := string(entry.Actor) + "|" + entry.Source
	if last, ok := s.recentByActor[dupKey]; ok {
		if entry.CreatedAt.Sub(last) < s.cfg.DuplicateWindow {
			// still check content equality against the most recent cached entry
			if s.isDuplicateLocked(entry) {
				s.mu.Unlock()
				return nil, nil
			}
		}
	}
	s.recentByActor[dupKey] = entry.CreatedAt
	s.rawCache = append(s.rawCache, entry)
	if len(s.rawCache) > 2000 {
		s.rawCache = s.rawCache[len(s.rawCache)-2000:]
	}
	count := len(s.rawCache)
	sessionEnabled := s.cfg.SessionMemoryEnabled
	s.mu.Unlock()

	if err := fsutil.AppendJSONLine(s.rawLogPath(), entry); err != nil {
		return nil, err
	}

	heading := fmt.Sprintf("## %s %s\n\n%s\n", entry.CreatedAt.Format("15:04:05"), entry.Actor, entry.Content)
	if err := fsutil.AppendLine(s.dailyPath(entry.CreatedAt), heading); err != nil {
		return nil, err
	}
	if sessionEnabled && entry.SessionKey != "" {
		if err := fsutil.AppendLine(s.sessionPath(entry.SessionKey), heading); err != nil {
			return nil, err
		}
	}

	s.scheduleReindex()
	if count > s.cfg.CompactionThreshold {
		go func() {
			if _, err := s.Compact(CompactReasonThreshold); err != nil {
				s.logger.Error("memory: threshold compaction failed", zap.Error(err))
			}
		}()
	}
	return &entry, nil
}

// isDuplicateLocked compares entry against the most recent cached entry with
// the same actor+source for exact content equality. Must hold s.mu.
func (s *Store) isDuplicateLocked(entry RawEntry) bool {
	for i := len(s.rawCache) - 1; i >= 0; i-- {
		prev := s.rawCache[i]
		if prev.Actor != entry.Actor || prev.Source != entry.Source {
			continue
		}
		return prev.Content == entry.Content
	}
	return false
}

// RecordNote appends a durable long-term note and mirrors it into the main
// long-term markdown file.
func (s *Store) RecordNote(note Note) (*Note, error) {
	if note.ID == "" {
		note.ID = newID("note")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	if err := fsutil.AppendJSONLine(s.notesLogPath(), note); err != nil {
		return nil, err
	}
	block := fmt.Sprintf("\n## %s %s\n\n%s\n", note.CreatedAt.Format("2006-01-02 15:04"), note.Title, note.Content)
	if err := fsutil.AppendLine(s.mainPath(), block); err != nil {
		return nil, err
	}
	s.scheduleReindex()
	return &note, nil
}

// WriteSoul updates the SOUL file: replace overwrites the whole file;
// otherwise text is appended beneath a new timestamped "Update" heading.
// When journal is true, the same text is also mirrored into today's
// soul-journal file. A replace always snapshots the text it discards into
// the soul-journal first, so an identity rewrite never destroys the prior
// text without a trace.
func (s *Store) WriteSoul(text string, replace bool, journal bool) error {
	if replace {
		prior, err := os.ReadFile(s.soulPath())
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		if len(prior) > 0 {
			snapshot := fmt.Sprintf("- [%s] replaced, prior text: %s", time.Now().Format("15:04"), oneLine(string(prior)))
			if err := fsutil.AppendLine(s.soulJournalPath(time.Now()), snapshot); err != nil {
				return err
			}
		}
		if err := fsutil.WriteFileAtomic(s.soulPath(), []byte(text), 0o600); err != nil {
			return err
		}
	} else {
		block := fmt.Sprintf("\n## Update %s\n\n%s\n", time.Now().Format("2006-01-02 15:04"), text)
		if err := fsutil.AppendLine(s.soulPath(), block); err != nil {
			return err
		}
	}
	if journal {
		line := fmt.Sprintf("- [%s] %s", time.Now().Format("15:04"), oneLine(text))
		if err := fsutil.AppendLine(s.soulJournalPath(time.Now()), line); err != nil {
			return err
		}
	}
	s.scheduleReindex()
	return nil
}

func oneLine(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > 240 {
		text = text[:240] + "..."
	}
	return text
}

// RecentRaw returns up to limit of the most recently recorded raw entries,
// optionally filtered to a single session key.
func (s *Store) RecentRaw(sessionKey string, limit int) []RawEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RawEntry
	for i := len(s.rawCache) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.rawCache[i]
		if sessionKey != "" && e.SessionKey != sessionKey {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RawCount returns the number of raw entries currently tracked in memory,
// the count the compaction threshold check is measured against.
func (s *Store) RawCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rawCache)
}

// Soul returns the current contents of SOUL.md, or "" if it has not been
// written yet.
func (s *Store) Soul() (string, error) {
	data, err := os.ReadFile(s.soulPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Stats summarizes the store's current size for the dashboard's memory
// panel.
func (s *Store) Stats() map[string]any {
	s.mu.Lock()
	rawCount := len(s.rawCache)
	s.mu.Unlock()
	return map[string]any{
		"rawCount":             rawCount,
		"sessionMemoryEnabled": s.cfg.SessionMemoryEnabled,
	}
}

// Close stops the filesystem watcher.
func (s *Store) Close() {
	s.stopWatch()
}
