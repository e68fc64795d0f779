package eventbus

// Event type strings emitted by runtime components. Centralized here so
// dashboard clients and tests can match against a single source of truth
// instead of ad hoc string literals scattered across packages.
const (
	TypeTaskQueued  = "task.queued"
	TypeTaskStart   = "task.start"
	TypeTaskOutput  = "task.output"
	TypeTaskEnd     = "task.end"
	TypeTaskStopped = "task.stopped"
	TypeTaskFailed  = "task.failed"

	TypeObjectiveCreated  = "objective.created"
	TypeObjectiveUpdated  = "objective.updated"
	TypeObjectiveResolved = "objective.resolved"

	TypePromptStart    = "prompt.start"
	TypePromptEnd      = "prompt.end"
	TypePromptTimeout  = "prompt.timeout"
	TypePromptOverflow = "prompt.overflow"
	TypePromptRetry    = "prompt.retry"

	TypeSessionCreated = "session.created"
	TypeSessionEvicted = "session.evicted"

	TypeBrowserOpened = "browser.opened"
	TypeBrowserClosed = "browser.closed"
	TypeBrowserError  = "browser.error"

	TypeMemoryIndexed   = "memory.indexed"
	TypeMemoryPruned    = "memory.pruned"
	TypeMemoryCompacted = "memory.compacted"

	TypeSkillInstalled = "skill.installed"
	TypeSkillEnabled   = "skill.enabled"
	TypeSkillRemoved   = "skill.removed"

	TypeAutonomousTick   = "autonomous.tick"
	TypeAutonomousSkip   = "autonomous.skip"
	TypeAutonomousFailed = "autonomous.failed"

	TypeToolCalled = "tool.called"
	TypeToolDenied = "tool.denied"

	TypeError = "error"
)
