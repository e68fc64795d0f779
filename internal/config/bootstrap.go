package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// Bootstrap ensures the home directory tree exists with all default
// content. Safe to call on every startup — it only creates missing
// directories and files, never overwriting an existing one, so user edits
// to soul.md, config.json, or any workspace file always survive a restart.
func Bootstrap(home string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	paths := NewPaths(home)

	for _, dir := range paths.dirs() {
		if err := fsutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("config: create dir %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		paths.WorkspaceDir() + "/IDENTITY.md":  defaultIdentity,
		paths.WorkspaceDir() + "/USER.md":      defaultUser,
		paths.WorkspaceDir() + "/AGENTS.md":    defaultAgents,
		paths.WorkspaceDir() + "/BOOTSTRAP.md": defaultBootstrapNote,
		paths.WorkspaceDir() + "/HEARTBEAT.md": defaultHeartbeat,
		paths.WorkspaceDir() + "/TOOLS.md":     defaultTools,
		paths.WorkspaceDir() + "/MEMORY.md":    defaultMemoryDoc,
		paths.WorkspaceDir() + "/SOUL.md":      defaultSoul,
		paths.DocsDir() + "/RUNBOOK.md":        defaultRunbook,
		paths.DocsDir() + "/START_HERE.md":     defaultStartHere,
	}

	created := 0
	for path, content := range defaults {
		wrote, err := fsutil.WriteFileIfAbsent(path, content, 0o600)
		if err != nil {
			logger.Warn("failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		if wrote {
			created++
		}
	}

	if created > 0 {
		logger.Info("home directory bootstrap complete", zap.String("home", paths.Home), zap.Int("filesCreated", created))
	} else {
		logger.Debug("home directory already provisioned", zap.String("home", paths.Home))
	}

	return nil
}

const defaultIdentity = `# Identity

You are nxclaw, a persistent autonomous agent. You run continuously, keep
state across restarts, and act on objectives even without a human present.

- Be direct and action-oriented: act first, explain briefly after.
- Never fabricate tool results, files, or capabilities you don't have.
- Say when you're uncertain instead of guessing.
`

const defaultUser = `# User

No user profile recorded yet. Update this file (or let the runtime update
it through memory writes) as you learn durable facts about who you're
working with.
`

const defaultAgents = `# Agents

This runtime drives a single agent loop augmented by background tasks and
an optional browser controller. There is no sub-agent delegation protocol
yet — record one here if you add it.
`

const defaultBootstrapNote = `# Bootstrap

This file is seeded once and never overwritten. Use it for one-time setup
notes specific to this home directory.
`

const defaultHeartbeat = `# Heartbeat

No heartbeat checks configured.
`

const defaultTools = `# Tools

The tool list available to you changes with configuration. Use only the
tools currently registered; if something you need isn't there, say so
rather than inventing it.
`

const defaultMemoryDoc = `# Memory

Long-term facts accumulate here as the memory store compacts raw
conversation history. Do not hand-edit compacted sections; use the memory
API instead.
`

const defaultSoul = `# Soul

No durable self-notes recorded yet. Entries written via the importance
trigger appear below under dated headings.
`

const defaultRunbook = `# Runbook

Operational notes: how to start the runtime, where state lives, and how to
recover from a stuck lane or stalled autonomous loop.

- State lives under this home directory; deleting ` + "`state/`" + ` resets queues
  and task history but not memory or workspace notes.
- A lane stuck mid-turn recovers on process restart; in-flight turns are
  not persisted mid-execution.
- The autonomous loop latches disabled after repeated consecutive
  failures. Restarting the runtime clears the latch; saving settings from
  the dashboard does not.
`

const defaultStartHere = `# Start Here

1. Run ` + "`auth`" + ` to connect an LLM provider.
2. Run ` + "`onboard`" + ` to create the home directory and seed its default
   files, then ` + "`start`" + ` to launch the runtime.
3. Open the dashboard at the configured host/port to watch state live.
`
