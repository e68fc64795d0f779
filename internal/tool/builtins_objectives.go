package tool

import (
	"context"

	"github.com/nxclaw/nxclaw/internal/objectives"
)

type objectiveCreateTool struct{ store *objectives.Store }

// NewObjectiveCreateTool wraps objectives.Store.Add.
func NewObjectiveCreateTool(store *objectives.Store) Tool { return &objectiveCreateTool{store: store} }

func (t *objectiveCreateTool) Name() string { return "objective_create" }
func (t *objectiveCreateTool) Kind() Kind   { return KindEdit }
func (t *objectiveCreateTool) Description() string {
	return "Queue a new objective for the autonomous loop to work on."
}
func (t *objectiveCreateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"priority":    map[string]any{"type": "integer", "description": "1 (highest) .. 5 (lowest)"},
		},
		"required": []string{"title"},
	}
}

func (t *objectiveCreateTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	obj, err := t.store.Add(objectives.AddInput{
		Title:       strArg(args, "title"),
		Description: strArg(args, "description"),
		Priority:    intArg(args, "priority"),
		Source:      "tool",
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(obj), Success: true}, nil
}

type objectiveUpdateTool struct{ store *objectives.Store }

// NewObjectiveUpdateTool wraps objectives.Store.Update.
func NewObjectiveUpdateTool(store *objectives.Store) Tool { return &objectiveUpdateTool{store: store} }

func (t *objectiveUpdateTool) Name() string { return "objective_update" }
func (t *objectiveUpdateTool) Kind() Kind   { return KindEdit }
func (t *objectiveUpdateTool) Description() string {
	return "Update an objective's status and append a progress note."
}
func (t *objectiveUpdateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":     map[string]any{"type": "string"},
			"status": map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "blocked", "completed", "failed", "cancelled"}},
			"note":   map[string]any{"type": "string"},
		},
		"required": []string{"id"},
	}
}

func (t *objectiveUpdateTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	obj, err := t.store.Update(objectives.UpdateInput{
		ID:     strArg(args, "id"),
		Status: objectives.Status(strArg(args, "status")),
		Note:   strArg(args, "note"),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(obj), Success: true}, nil
}
