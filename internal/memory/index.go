package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// Index is the derived, rebuildable knowledge index: the chunk set plus an
// embedding cache keyed by content hash so identical text anywhere in the
// corpus reuses one vector.
type Index struct {
	Chunks         []Chunk              `json:"chunks"`
	EmbeddingCache map[string][]float32 `json:"embeddingCache"`
	BuiltAt        time.Time            `json:"builtAt"`
}

type indexFile struct {
	Chunks         []Chunk              `json:"chunks"`
	EmbeddingCache map[string][]float32 `json:"embeddingCache"`
	BuiltAt        time.Time            `json:"builtAt"`
}

func loadIndex(path string) (*Index, error) {
	var data indexFile
	if err := fsutil.ReadJSONOrBackup(path, &data); err != nil {
		if os.IsNotExist(err) {
			return &Index{EmbeddingCache: make(map[string][]float32)}, nil
		}
		return nil, apperr.Wrap(apperr.KindMemoryIndex, "load memory index", err)
	}
	if data.EmbeddingCache == nil {
		data.EmbeddingCache = make(map[string][]float32)
	}
	return &Index{Chunks: data.Chunks, EmbeddingCache: data.EmbeddingCache, BuiltAt: data.BuiltAt}, nil
}

func (s *Store) persistIndexLocked() error {
	out := indexFile{Chunks: s.idx.Chunks, EmbeddingCache: s.idx.EmbeddingCache, BuiltAt: s.idx.BuiltAt}
	if err := fsutil.WriteJSONAtomic(s.indexPath(), out); err != nil {
		return apperr.Wrap(apperr.KindMemoryIndex, "persist memory index", err)
	}
	return nil
}

// sourceFiles enumerates every markdown file currently eligible for
// indexing, tagged with the chunking strategy and session key (if any) that
// applies to it.
type sourceFile struct {
	path       string
	sourceType SourceType
	sessionKey string
}

func (s *Store) sourceFiles() []sourceFile {
	files := []sourceFile{
		{path: s.identityPath(), sourceType: SourceExtra},
		{path: s.mainPath(), sourceType: SourceMain},
		{path: s.soulPath(), sourceType: SourceSoul},
	}

	entries, _ := os.ReadDir(s.cfg.RootDir)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "daily-") && strings.HasSuffix(name, ".md"):
			files = append(files, sourceFile{path: s.path(name), sourceType: SourceDaily})
		case strings.HasPrefix(name, "compact-") && strings.HasSuffix(name, ".md"):
			files = append(files, sourceFile{path: s.path(name), sourceType: SourceCompact})
		}
	}

	sessionDir := s.path("sessions")
	sessionEntries, _ := os.ReadDir(sessionDir)
	for _, e := range sessionEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".md")
		files = append(files, sourceFile{path: filepath.Join(sessionDir, e.Name()), sourceType: SourceSession, sessionKey: key})
	}

	journalDir := s.path("soul-journal")
	journalEntries, _ := os.ReadDir(journalDir)
	for _, e := range journalEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		files = append(files, sourceFile{path: filepath.Join(journalDir, e.Name()), sourceType: SourceSoul})
	}

	return files
}

// Reindex rebuilds the chunk set from the markdown tiers on disk, reusing
// cached vectors for any chunk whose content hash was already embedded and
// sending only genuinely new hashes to the embedding provider.
func (s *Store) Reindex(ctx context.Context) error {
	var allChunks []Chunk
	for _, sf := range s.sourceFiles() {
		chunks, err := chunkFile(sf.path, sf.sourceType, sf.sessionKey)
		if err != nil {
			return apperr.Wrap(apperr.KindMemoryIndex, "chunk "+sf.path, err)
		}
		allChunks = append(allChunks, chunks...)
	}

	s.mu.Lock()
	cache := s.idx.EmbeddingCache
	s.mu.Unlock()

	var toEmbed []string
	seen := make(map[string]bool)
	for _, c := range allChunks {
		if seen[c.ContentHash] {
			continue
		}
		seen[c.ContentHash] = true
		if _, ok := cache[c.ContentHash]; !ok {
			toEmbed = append(toEmbed, c.ContentHash)
		}
	}

	textByHash := make(map[string]string, len(allChunks))
	for _, c := range allChunks {
		textByHash[c.ContentHash] = c.Text
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, h := range toEmbed {
			texts[i] = textByHash[h]
		}
		vectors, err := s.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return apperr.Wrap(apperr.KindMemoryIndex, "embed new chunks", err)
		}
		s.mu.Lock()
		for i, h := range toEmbed {
			if i < len(vectors) {
				s.idx.EmbeddingCache[h] = vectors[i]
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	for i := range allChunks {
		allChunks[i].Vector = s.idx.EmbeddingCache[allChunks[i].ContentHash]
	}
	s.idx.Chunks = allChunks
	s.idx.BuiltAt = time.Now()
	err := s.persistIndexLocked()
	s.mu.Unlock()

	return err
}
