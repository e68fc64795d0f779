// Package config loads and persists the runtime's on-disk configuration,
// bootstraps its home directory layout, and resolves the environment
// variable and compiled-default overlays spec.md §6 requires.
package config

import (
	"os"
	"path/filepath"
)

// AppName is the canonical application name; it names the default home
// directory (~/.nxclaw) and the NXCLAW_ environment variable prefix.
const AppName = "nxclaw"

// DefaultHome returns ~/.nxclaw, used when no explicit home is configured.
func DefaultHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Paths resolves every file and directory spec.md §6's directory layout
// names, rooted at a single home directory.
type Paths struct {
	Home string
}

func NewPaths(home string) Paths {
	if home == "" {
		home = DefaultHome()
	}
	return Paths{Home: home}
}

func (p Paths) ConfigPath() string { return filepath.Join(p.Home, "config.json") }
func (p Paths) AgentDir() string   { return filepath.Join(p.Home, "agent") }
func (p Paths) AuthPath() string   { return filepath.Join(p.AgentDir(), "auth.json") }
func (p Paths) ModelsPath() string { return filepath.Join(p.AgentDir(), "models.json") }
func (p Paths) StateDir() string   { return filepath.Join(p.Home, "state") }
func (p Paths) LaneSessionsDir() string {
	return filepath.Join(p.StateDir(), "lane-sessions")
}
func (p Paths) ObjectivesPath() string { return filepath.Join(p.StateDir(), "objectives.json") }
func (p Paths) TasksPath() string      { return filepath.Join(p.StateDir(), "tasks.json") }
func (p Paths) DashboardPath() string  { return filepath.Join(p.StateDir(), "dashboard.json") }
func (p Paths) EventsPath() string     { return filepath.Join(p.StateDir(), "events.jsonl") }
func (p Paths) MemoryIndexPath() string {
	return filepath.Join(p.StateDir(), "memory-index.json")
}
func (p Paths) EmbeddingCachePath() string {
	return filepath.Join(p.StateDir(), "embedding-cache.json")
}
func (p Paths) SkillsStatePath() string { return filepath.Join(p.StateDir(), "skills.json") }

func (p Paths) MemoryDir() string     { return filepath.Join(p.Home, "memory") }
func (p Paths) MemoryRawPath() string { return filepath.Join(p.MemoryDir(), "raw.jsonl") }
func (p Paths) MemoryCompactPath() string {
	return filepath.Join(p.MemoryDir(), "compact.jsonl")
}

func (p Paths) WorkspaceDir() string { return filepath.Join(p.Home, "workspace") }
func (p Paths) WorkspaceMemoryDir() string {
	return filepath.Join(p.WorkspaceDir(), "memory")
}
func (p Paths) WorkspaceSessionsDir() string {
	return filepath.Join(p.WorkspaceMemoryDir(), "sessions")
}
func (p Paths) WorkspaceSoulJournalDir() string {
	return filepath.Join(p.WorkspaceMemoryDir(), "soul-journal")
}
func (p Paths) WorkspaceCompactDir() string {
	return filepath.Join(p.WorkspaceMemoryDir(), "compact-md")
}

func (p Paths) ChromeDir() string      { return filepath.Join(p.Home, "chrome") }
func (p Paths) ChromeShotsDir() string { return filepath.Join(p.ChromeDir(), "shots") }

func (p Paths) LogsDir() string { return filepath.Join(p.Home, "logs") }

func (p Paths) SkillsDir() string { return filepath.Join(p.Home, "skills") }

func (p Paths) DocsDir() string { return filepath.Join(p.Home, "docs") }

// dirs lists every directory Bootstrap must ensure exists.
func (p Paths) dirs() []string {
	return []string{
		p.Home,
		p.AgentDir(),
		p.StateDir(),
		p.LaneSessionsDir(),
		p.MemoryDir(),
		p.WorkspaceDir(),
		p.WorkspaceMemoryDir(),
		p.WorkspaceSessionsDir(),
		p.WorkspaceSoulJournalDir(),
		p.WorkspaceCompactDir(),
		p.ChromeDir(),
		p.ChromeShotsDir(),
		p.LogsDir(),
		p.SkillsDir(),
		p.DocsDir(),
	}
}
