// Package skills discovers, installs, enables, and previews skills: small
// directories with a SKILL.md manifest that extend the agent's behavior
// with bundled instructions and optionally a scripts/ directory promotable
// into callable tools. It mirrors the runtime's other file-backed stores —
// an in-memory map kept in sync with a single JSON state file via atomic
// rename, watched for external changes with fsnotify.
package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// Manifest is SKILL.md's YAML front matter.
type Manifest struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Commands    []string `yaml:"commands,omitempty"`
}

// Skill is one discovered or installed skill directory.
type Skill struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Path        string    `json:"path"`
	Commands    []string  `json:"commands,omitempty"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installedAt"`
}

// Config bounds the manager's catalog size, install footprint, and prompt
// footprint.
type Config struct {
	Enabled             bool
	SkillsDir           string // installed skills live here, one subdirectory per skill
	CodexSkillsDir      string // catalog of bundled/discoverable skills not yet installed
	StatePath           string // skills.json; defaults to SkillsDir/../skills.json
	MaxCatalogEntries   int
	MaxSkillFileBytes   int64
	MaxInstallFiles     int
	MaxInstallBytes     int64
	InstallTimeoutMs    int
	MaxPromptSkills     int
	MaxPromptChars      int
	AutoEnableOnInstall bool
}

const (
	defaultMaxCatalogEntries = 50
	defaultMaxSkillFileBytes = 64 * 1024
	defaultMaxInstallFiles   = 500
	defaultMaxInstallBytes   = 16 * 1024 * 1024
	defaultInstallTimeoutMs  = 10_000
	defaultMaxPromptSkills   = 8
	defaultMaxPromptChars    = 2000
)

func (c *Config) applyDefaults() {
	if c.MaxCatalogEntries <= 0 {
		c.MaxCatalogEntries = defaultMaxCatalogEntries
	}
	if c.MaxSkillFileBytes <= 0 {
		c.MaxSkillFileBytes = defaultMaxSkillFileBytes
	}
	if c.MaxInstallFiles <= 0 {
		c.MaxInstallFiles = defaultMaxInstallFiles
	}
	if c.MaxInstallBytes <= 0 {
		c.MaxInstallBytes = defaultMaxInstallBytes
	}
	if c.InstallTimeoutMs <= 0 {
		c.InstallTimeoutMs = defaultInstallTimeoutMs
	}
	if c.MaxPromptSkills <= 0 {
		c.MaxPromptSkills = defaultMaxPromptSkills
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = defaultMaxPromptChars
	}
	if c.StatePath == "" && c.SkillsDir != "" {
		c.StatePath = filepath.Join(filepath.Dir(filepath.Clean(c.SkillsDir)), "skills.json")
	}
}

// Manager discovers skills under cfg.SkillsDir and tracks their enabled
// state across restarts.
type Manager struct {
	cfg    Config
	bus    *eventbus.Bus
	logger *zap.Logger

	mu     sync.RWMutex
	skills map[string]*Skill

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

type stateFile struct {
	Overrides map[string]bool `json:"overrides"` // skill ID -> enabled
}

// New builds a Manager, scanning cfg.SkillsDir for installed skills and
// applying any persisted enable/disable overrides. bus and logger may be
// nil.
func New(cfg Config, bus *eventbus.Bus, logger *zap.Logger) (*Manager, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SkillsDir != "" {
		if err := fsutil.EnsureDir(cfg.SkillsDir); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With(zap.String("component", "skills")),
		skills: make(map[string]*Skill),
	}

	m.scan()
	m.applyOverrides()

	return m, nil
}

// scan rebuilds the in-memory skill map from cfg.SkillsDir, preserving
// Enabled state for skills already known.
func (m *Manager) scan() {
	if m.cfg.SkillsDir == "" {
		return
	}
	entries, err := os.ReadDir(m.cfg.SkillsDir)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	found := make(map[string]bool, len(entries))
	for _, entry := range entries {
		path := filepath.Join(m.cfg.SkillsDir, entry.Name())
		info, err := os.Stat(path) // resolves symlinks, unlike entry.IsDir()
		if err != nil || !info.IsDir() {
			continue
		}
		skill := m.loadSkillFromPath(path)
		if skill == nil {
			continue
		}
		if existing, ok := m.skills[skill.ID]; ok {
			skill.Enabled = existing.Enabled
			skill.InstalledAt = existing.InstalledAt
		}
		m.skills[skill.ID] = skill
		found[skill.ID] = true
	}
	for id := range m.skills {
		if !found[id] {
			delete(m.skills, id)
		}
	}
}

func (m *Manager) loadSkillFromPath(path string) *Skill {
	manifestPath := filepath.Join(path, "SKILL.md")
	info, err := os.Stat(manifestPath)
	if err != nil {
		return nil
	}
	if info.Size() > m.cfg.MaxSkillFileBytes {
		m.logger.Warn("SKILL.md exceeds configured size limit, skipping", zap.String("path", manifestPath), zap.Int64("size", info.Size()))
		return nil
	}
	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil
	}

	id := filepath.Base(path)
	manifest, body := parseManifest(content)
	name := manifest.Name
	if name == "" {
		name = firstHeading(body)
	}
	if name == "" {
		name = id
	}
	description := manifest.Description
	if description == "" {
		description = firstParagraph(body)
	}

	return &Skill{
		ID:          id,
		Name:        name,
		Description: description,
		Path:        path,
		Commands:    manifest.Commands,
		Enabled:     true,
		InstalledAt: time.Now(),
	}
}

// parseManifest splits SKILL.md into YAML front matter (between a pair of
// "---" lines at the top of the file) and the markdown body. A file with no
// front matter returns a zero Manifest and the whole content as body.
func parseManifest(content []byte) (Manifest, string) {
	text := string(content)
	var manifest Manifest

	if strings.HasPrefix(text, "---\n") {
		rest := text[4:]
		if end := strings.Index(rest, "\n---"); end >= 0 {
			frontMatter := rest[:end]
			body := strings.TrimLeft(rest[end+4:], "\n")
			if err := yaml.Unmarshal([]byte(frontMatter), &manifest); err == nil {
				return manifest, body
			}
			return Manifest{}, body
		}
	}
	return manifest, text
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func firstParagraph(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}

func (m *Manager) applyOverrides() {
	if m.cfg.StatePath == "" {
		return
	}
	var sf stateFile
	if err := fsutil.ReadJSONOrBackup(m.cfg.StatePath, &sf); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, enabled := range sf.Overrides {
		if s, ok := m.skills[id]; ok {
			s.Enabled = enabled
		}
	}
}

func (m *Manager) persistOverrides() error {
	if m.cfg.StatePath == "" {
		return nil
	}
	m.mu.RLock()
	sf := stateFile{Overrides: make(map[string]bool, len(m.skills))}
	for id, s := range m.skills {
		sf.Overrides[id] = s.Enabled
	}
	m.mu.RUnlock()
	return fsutil.WriteJSONAtomic(m.cfg.StatePath, sf)
}

// List returns every installed skill, sorted by ID.
func (m *Manager) List() []*Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Skill, 0, len(m.skills))
	for _, s := range m.skills {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Show returns one installed skill by ID.
func (m *Manager) Show(id string) (*Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "skill not found: "+id)
	}
	cp := *s
	return &cp, nil
}

// CatalogEntry is a skill discoverable under CodexSkillsDir that has not
// yet been installed.
type CatalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// Catalog lists bundled/discoverable skills not yet installed, bounded by
// MaxCatalogEntries.
func (m *Manager) Catalog() []CatalogEntry {
	if m.cfg.CodexSkillsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.cfg.CodexSkillsDir)
	if err != nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CatalogEntry
	for _, entry := range entries {
		if len(out) >= m.cfg.MaxCatalogEntries {
			break
		}
		path := filepath.Join(m.cfg.CodexSkillsDir, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		id := filepath.Base(path)
		if _, installed := m.skills[id]; installed {
			continue
		}
		skill := m.loadSkillFromPath(path)
		if skill == nil {
			continue
		}
		out = append(out, CatalogEntry{ID: id, Name: skill.Name, Description: skill.Description, Source: path})
	}
	return out
}

// Bootstrap copies every catalog entry not already installed into
// cfg.SkillsDir, without clobbering skills a user has already customized.
func (m *Manager) Bootstrap() (int, error) {
	installed := 0
	for _, entry := range m.Catalog() {
		if _, err := m.Install(context.Background(), entry.Source); err != nil {
			m.logger.Warn("bootstrap skill install failed", zap.String("id", entry.ID), zap.Error(err))
			continue
		}
		installed++
	}
	return installed, nil
}

// Install copies source (a skill directory containing SKILL.md) into
// cfg.SkillsDir, bounded by MaxInstallFiles/MaxInstallBytes and cancelled
// after InstallTimeoutMs.
func (m *Manager) Install(ctx context.Context, source string) (*Skill, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.InstallTimeoutMs)*time.Millisecond)
	defer cancel()

	id := filepath.Base(filepath.Clean(source))
	m.mu.RLock()
	_, exists := m.skills[id]
	m.mu.RUnlock()
	if exists {
		return nil, apperr.New(apperr.KindValidation, "skill already installed: "+id)
	}

	if _, err := os.Stat(filepath.Join(source, "SKILL.md")); err != nil {
		return nil, apperr.New(apperr.KindValidation, "source is not a skill directory (missing SKILL.md): "+source)
	}

	target := filepath.Join(m.cfg.SkillsDir, id)
	if err := copyDir(ctx, source, target, m.cfg.MaxInstallFiles, m.cfg.MaxInstallBytes); err != nil {
		os.RemoveAll(target)
		return nil, apperr.Wrap(apperr.KindInternal, "install skill failed", err)
	}

	skill := m.loadSkillFromPath(target)
	if skill == nil {
		os.RemoveAll(target)
		return nil, apperr.New(apperr.KindValidation, "invalid skill directory after copy: "+id)
	}
	skill.Enabled = m.cfg.AutoEnableOnInstall

	m.mu.Lock()
	m.skills[skill.ID] = skill
	m.mu.Unlock()

	if err := m.persistOverrides(); err != nil {
		m.logger.Warn("persist skill overrides failed", zap.Error(err))
	}
	m.emit(eventbus.TypeSkillInstalled, skill)

	return skill, nil
}

// Remove deletes an installed skill's directory and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.skills[id]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "skill not found: "+id)
	}
	delete(m.skills, id)
	m.mu.Unlock()

	if err := os.RemoveAll(s.Path); err != nil {
		return apperr.Wrap(apperr.KindInternal, "remove skill failed", err)
	}
	if err := m.persistOverrides(); err != nil {
		m.logger.Warn("persist skill overrides failed", zap.Error(err))
	}
	m.emit(eventbus.TypeSkillRemoved, s)
	return nil
}

// Enable marks a skill enabled, making it eligible for prompt previews and
// tool promotion.
func (m *Manager) Enable(id string) error { return m.setEnabled(id, true) }

// Disable marks a skill disabled.
func (m *Manager) Disable(id string) error { return m.setEnabled(id, false) }

func (m *Manager) setEnabled(id string, enabled bool) error {
	m.mu.Lock()
	s, ok := m.skills[id]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "skill not found: "+id)
	}
	s.Enabled = enabled
	m.mu.Unlock()

	if err := m.persistOverrides(); err != nil {
		return err
	}
	m.emit(eventbus.TypeSkillEnabled, s)
	return nil
}

// EnabledSkills returns only currently enabled skills.
func (m *Manager) EnabledSkills() []*Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Skill
	for _, s := range m.skills {
		if s.Enabled {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) emit(eventType string, s *Skill) {
	if m.bus != nil {
		m.bus.Emit(eventType, s)
	}
}

// StartWatch watches cfg.SkillsDir for external changes (manual edits, a
// side-loaded install) and rescans on any event, debounced.
func (m *Manager) StartWatch() {
	if m.cfg.SkillsDir == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("skill watcher unavailable", zap.Error(err))
		return
	}
	if err := watcher.Add(m.cfg.SkillsDir); err != nil {
		watcher.Close()
		m.logger.Warn("skill watcher add failed", zap.Error(err))
		return
	}

	m.watcher = watcher
	m.stop = make(chan struct{})

	safego.Go(m.logger, "skills-watch", func() {
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-m.stop:
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				debounce.Reset(300 * time.Millisecond)
			case <-debounce.C:
				m.scan()
				m.applyOverrides()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("skill watcher error", zap.Error(err))
			}
		}
	})
}

// StopWatch stops the fsnotify watcher started by StartWatch.
func (m *Manager) StopWatch() {
	if m.watcher == nil {
		return
	}
	close(m.stop)
	m.watcher.Close()
	m.watcher = nil
}

func copyDir(ctx context.Context, src, dst string, maxFiles int, maxBytes int64) error {
	var fileCount int
	var totalBytes int64

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return fsutil.EnsureDir(target)
		}

		fileCount++
		if fileCount > maxFiles {
			return fmt.Errorf("skill source exceeds %d files", maxFiles)
		}
		totalBytes += info.Size()
		if totalBytes > maxBytes {
			return fmt.Errorf("skill source exceeds %d bytes", maxBytes)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return fsutil.CopyReaderToFile(target, strings.NewReader(string(data)), info.Mode())
	})
}
