package tool

import (
	"github.com/nxclaw/nxclaw/internal/browser"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// Deps aggregates every domain package the built-in tool set can wrap.
// A nil field disables the tools that depend on it (e.g. a deployment
// running without a browser controller gets no browser_* tools).
type Deps struct {
	Tasks      *tasks.Manager
	Browser    *browser.Controller
	Memory     *memory.Store
	Objectives *objectives.Store
}

// RegisterAll registers every built-in tool whose dependency is present in
// deps. This is the single place new built-in tools are wired in.
func RegisterAll(reg Registry, deps Deps) error {
	var tools []Tool

	if deps.Tasks != nil {
		tools = append(tools,
			NewRunCommandTool(deps.Tasks),
			NewScheduleCommandTool(deps.Tasks),
			NewStopTaskTool(deps.Tasks),
			NewTailTaskTool(deps.Tasks),
		)
	}
	if deps.Browser != nil {
		tools = append(tools,
			NewBrowserOpenTool(deps.Browser),
			NewBrowserNavigateTool(deps.Browser),
			NewBrowserSnapshotTool(deps.Browser),
			NewBrowserClickTool(deps.Browser),
			NewBrowserTypeTool(deps.Browser),
			NewBrowserScreenshotTool(deps.Browser),
			NewBrowserEvaluateTool(deps.Browser),
		)
	}
	if deps.Memory != nil {
		tools = append(tools,
			NewMemorySaveTool(deps.Memory),
			NewMemorySearchTool(deps.Memory),
		)
	}
	if deps.Objectives != nil {
		tools = append(tools,
			NewObjectiveCreateTool(deps.Objectives),
			NewObjectiveUpdateTool(deps.Objectives),
		)
	}

	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
