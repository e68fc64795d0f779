package tool

import (
	"context"

	"github.com/nxclaw/nxclaw/internal/memory"
)

type memorySaveTool struct{ store *memory.Store }

// NewMemorySaveTool wraps memory.Store.RecordNote.
func NewMemorySaveTool(store *memory.Store) Tool { return &memorySaveTool{store: store} }

func (t *memorySaveTool) Name() string        { return "memory_save" }
func (t *memorySaveTool) Kind() Kind          { return KindEdit }
func (t *memorySaveTool) Description() string { return "Record a durable note in long-term memory." }
func (t *memorySaveTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
			"source":  map[string]any{"type": "string"},
		},
		"required": []string{"title", "content"},
	}
}

func (t *memorySaveTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	note, err := t.store.RecordNote(memory.Note{
		Title:   strArg(args, "title"),
		Content: strArg(args, "content"),
		Source:  strArg(args, "source"),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(note), Success: true}, nil
}

type memorySearchTool struct{ store *memory.Store }

// NewMemorySearchTool wraps memory.Store.Search.
func NewMemorySearchTool(store *memory.Store) Tool { return &memorySearchTool{store: store} }

func (t *memorySearchTool) Name() string { return "memory_search" }
func (t *memorySearchTool) Kind() Kind   { return KindSearch }
func (t *memorySearchTool) Description() string {
	return "Search long-term memory for relevant notes and prior context."
}
func (t *memorySearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       map[string]any{"type": "string"},
			"limit":       map[string]any{"type": "integer"},
			"session_key": map[string]any{"type": "string"},
		},
		"required": []string{"query"},
	}
}

func (t *memorySearchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	limit := intArg(args, "limit")
	if limit <= 0 {
		limit = 10
	}
	results, err := t.store.Search(ctx, strArg(args, "query"), limit, memory.SearchOptions{
		SessionKey: strArg(args, "session_key"),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(results), Success: true}, nil
}
