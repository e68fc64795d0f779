package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nxclaw/nxclaw/internal/tasks"
)

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func jsonOutput(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

type runCommandTool struct{ mgr *tasks.Manager }

// NewRunCommandTool wraps tasks.Manager.RunCommand as a tool that launches
// or queues a shell command.
func NewRunCommandTool(mgr *tasks.Manager) Tool { return &runCommandTool{mgr: mgr} }

func (t *runCommandTool) Name() string { return "run_command" }
func (t *runCommandTool) Kind() Kind   { return KindExecute }
func (t *runCommandTool) Description() string {
	return "Run a shell command, optionally in the background, with retry and timeout controls."
}
func (t *runCommandTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":           map[string]any{"type": "string"},
			"command":        map[string]any{"type": "string"},
			"work_dir":       map[string]any{"type": "string"},
			"timeout_ms":     map[string]any{"type": "integer"},
			"max_retries":    map[string]any{"type": "integer"},
			"retry_delay_ms": map[string]any{"type": "integer"},
			"background":     map[string]any{"type": "boolean"},
			"dedupe_running": map[string]any{"type": "boolean"},
		},
		"required": []string{"command"},
	}
}

func (t *runCommandTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	in := tasks.RunInput{
		Name:          strArg(args, "name"),
		Command:       strArg(args, "command"),
		WorkDir:       strArg(args, "work_dir"),
		TimeoutMs:     intArg(args, "timeout_ms"),
		MaxRetries:    intArg(args, "max_retries"),
		RetryDelayMs:  intArg(args, "retry_delay_ms"),
		Background:    boolArg(args, "background"),
		DedupeRunning: boolArg(args, "dedupe_running"),
	}
	task, err := t.mgr.RunCommand(in)
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(task), Success: task.Error == ""}, nil
}

type scheduleCommandTool struct{ mgr *tasks.Manager }

// NewScheduleCommandTool wraps tasks.Manager.ScheduleCommand.
func NewScheduleCommandTool(mgr *tasks.Manager) Tool { return &scheduleCommandTool{mgr: mgr} }

func (t *scheduleCommandTool) Name() string { return "schedule_command" }
func (t *scheduleCommandTool) Kind() Kind   { return KindExecute }
func (t *scheduleCommandTool) Description() string {
	return "Install a repeating schedule that runs a shell command on a fixed interval."
}
func (t *scheduleCommandTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"command":     map[string]any{"type": "string"},
			"work_dir":    map[string]any{"type": "string"},
			"interval_ms": map[string]any{"type": "integer"},
			"timeout_ms":  map[string]any{"type": "integer"},
		},
		"required": []string{"command", "interval_ms"},
	}
}

func (t *scheduleCommandTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	in := tasks.ScheduleInput{
		Name:       strArg(args, "name"),
		Command:    strArg(args, "command"),
		WorkDir:    strArg(args, "work_dir"),
		IntervalMs: intArg(args, "interval_ms"),
		TimeoutMs:  intArg(args, "timeout_ms"),
	}
	task, err := t.mgr.ScheduleCommand(in)
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(task), Success: true}, nil
}

type stopTaskTool struct{ mgr *tasks.Manager }

// NewStopTaskTool wraps tasks.Manager.Stop.
func NewStopTaskTool(mgr *tasks.Manager) Tool { return &stopTaskTool{mgr: mgr} }

func (t *stopTaskTool) Name() string        { return "stop_task" }
func (t *stopTaskTool) Kind() Kind          { return KindExecute }
func (t *stopTaskTool) Description() string { return "Stop a running or scheduled background task." }
func (t *stopTaskTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"task_id": map[string]any{"type": "string"}},
		"required":   []string{"task_id"},
	}
}

func (t *stopTaskTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	id := strArg(args, "task_id")
	ok := t.mgr.Stop(id)
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("task %s not found", id)}, nil
	}
	return &Result{Output: fmt.Sprintf("stopped %s", id), Success: true}, nil
}

type tailTaskTool struct{ mgr *tasks.Manager }

// NewTailTaskTool wraps tasks.Manager.Tail.
func NewTailTaskTool(mgr *tasks.Manager) Tool { return &tailTaskTool{mgr: mgr} }

func (t *tailTaskTool) Name() string { return "tail_task" }
func (t *tailTaskTool) Kind() Kind   { return KindRead }
func (t *tailTaskTool) Description() string {
	return "Read the recent output lines of a background task."
}
func (t *tailTaskTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{"type": "string"},
			"lines":   map[string]any{"type": "integer"},
		},
		"required": []string{"task_id"},
	}
}

func (t *tailTaskTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	lines, err := t.mgr.Tail(strArg(args, "task_id"), intArg(args, "lines"))
	if err != nil {
		return nil, err
	}
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return &Result{Output: out, Success: true}, nil
}
