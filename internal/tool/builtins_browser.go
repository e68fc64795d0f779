package tool

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nxclaw/nxclaw/internal/browser"
)

type browserOpenTool struct{ ctl *browser.Controller }

// NewBrowserOpenTool wraps browser.Controller.OpenSession.
func NewBrowserOpenTool(ctl *browser.Controller) Tool { return &browserOpenTool{ctl: ctl} }

func (t *browserOpenTool) Name() string { return "browser_open" }
func (t *browserOpenTool) Kind() Kind   { return KindFetch }
func (t *browserOpenTool) Description() string {
	return "Open a new browser session, optionally navigating to a URL."
}
func (t *browserOpenTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
	}
}

func (t *browserOpenTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	sess, err := t.ctl.OpenSession(ctx, browser.OpenOptions{URL: strArg(args, "url")})
	if err != nil {
		return nil, err
	}
	return &Result{Output: fmt.Sprintf("opened session %s (%s)", sess.ID, sess.Title), Success: true,
		Metadata: map[string]any{"session_id": sess.ID}}, nil
}

type browserNavigateTool struct{ ctl *browser.Controller }

// NewBrowserNavigateTool wraps browser.Controller.Navigate.
func NewBrowserNavigateTool(ctl *browser.Controller) Tool { return &browserNavigateTool{ctl: ctl} }

func (t *browserNavigateTool) Name() string { return "browser_navigate" }
func (t *browserNavigateTool) Kind() Kind   { return KindFetch }
func (t *browserNavigateTool) Description() string {
	return "Navigate an existing browser session to a URL."
}
func (t *browserNavigateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{"type": "string"},
			"url":        map[string]any{"type": "string"},
		},
		"required": []string{"session_id", "url"},
	}
}

func (t *browserNavigateTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if err := t.ctl.Navigate(ctx, strArg(args, "session_id"), strArg(args, "url")); err != nil {
		return nil, err
	}
	return &Result{Output: "navigated", Success: true}, nil
}

type browserSnapshotTool struct{ ctl *browser.Controller }

// NewBrowserSnapshotTool wraps browser.Controller.Snapshot.
func NewBrowserSnapshotTool(ctl *browser.Controller) Tool { return &browserSnapshotTool{ctl: ctl} }

func (t *browserSnapshotTool) Name() string { return "browser_snapshot" }
func (t *browserSnapshotTool) Kind() Kind   { return KindRead }
func (t *browserSnapshotTool) Description() string {
	return "Capture an accessibility-tree snapshot of the current page, assigning a ref to each interactive element."
}
func (t *browserSnapshotTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id":   map[string]any{"type": "string"},
			"max_elements": map[string]any{"type": "integer"},
		},
		"required": []string{"session_id"},
	}
}

func (t *browserSnapshotTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	snap, err := t.ctl.Snapshot(ctx, strArg(args, "session_id"), intArg(args, "max_elements"))
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(snap), Success: true}, nil
}

type browserClickTool struct{ ctl *browser.Controller }

// NewBrowserClickTool wraps browser.Controller.ClickByRef.
func NewBrowserClickTool(ctl *browser.Controller) Tool { return &browserClickTool{ctl: ctl} }

func (t *browserClickTool) Name() string { return "browser_click" }
func (t *browserClickTool) Kind() Kind   { return KindEdit }
func (t *browserClickTool) Description() string {
	return "Click the element assigned a ref by the most recent snapshot."
}
func (t *browserClickTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{"type": "string"},
			"ref":        map[string]any{"type": "integer"},
		},
		"required": []string{"session_id", "ref"},
	}
}

func (t *browserClickTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if err := t.ctl.ClickByRef(ctx, strArg(args, "session_id"), intArg(args, "ref")); err != nil {
		return nil, err
	}
	return &Result{Output: "clicked", Success: true}, nil
}

type browserTypeTool struct{ ctl *browser.Controller }

// NewBrowserTypeTool wraps browser.Controller.TypeByRef.
func NewBrowserTypeTool(ctl *browser.Controller) Tool { return &browserTypeTool{ctl: ctl} }

func (t *browserTypeTool) Name() string { return "browser_type" }
func (t *browserTypeTool) Kind() Kind   { return KindEdit }
func (t *browserTypeTool) Description() string {
	return "Type text into the element assigned a ref by the most recent snapshot."
}
func (t *browserTypeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id":  map[string]any{"type": "string"},
			"ref":         map[string]any{"type": "integer"},
			"text":        map[string]any{"type": "string"},
			"clear":       map[string]any{"type": "boolean"},
			"press_enter": map[string]any{"type": "boolean"},
		},
		"required": []string{"session_id", "ref", "text"},
	}
}

func (t *browserTypeTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	err := t.ctl.TypeByRef(ctx, strArg(args, "session_id"), intArg(args, "ref"), strArg(args, "text"),
		boolArg(args, "clear"), boolArg(args, "press_enter"))
	if err != nil {
		return nil, err
	}
	return &Result{Output: "typed", Success: true}, nil
}

type browserScreenshotTool struct{ ctl *browser.Controller }

// NewBrowserScreenshotTool wraps browser.Controller.Screenshot.
func NewBrowserScreenshotTool(ctl *browser.Controller) Tool { return &browserScreenshotTool{ctl: ctl} }

func (t *browserScreenshotTool) Name() string { return "browser_screenshot" }
func (t *browserScreenshotTool) Kind() Kind   { return KindRead }
func (t *browserScreenshotTool) Description() string {
	return "Capture a screenshot of the current page."
}
func (t *browserScreenshotTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{"type": "string"},
			"full_page":  map[string]any{"type": "boolean"},
		},
		"required": []string{"session_id"},
	}
}

func (t *browserScreenshotTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	png, path, err := t.ctl.Screenshot(ctx, strArg(args, "session_id"), boolArg(args, "full_page"))
	if err != nil {
		return nil, err
	}
	meta := map[string]any{"base64_png": base64.StdEncoding.EncodeToString(png)}
	if path != "" {
		meta["saved_path"] = path
	}
	return &Result{Output: "captured screenshot", Display: path, Success: true, Metadata: meta}, nil
}

type browserEvaluateTool struct{ ctl *browser.Controller }

// NewBrowserEvaluateTool wraps browser.Controller.Evaluate, exposing a
// sandboxed JavaScript evaluation capability that inherits the
// controller's own hard execution timeout.
func NewBrowserEvaluateTool(ctl *browser.Controller) Tool { return &browserEvaluateTool{ctl: ctl} }

func (t *browserEvaluateTool) Name() string { return "browser_evaluate" }
func (t *browserEvaluateTool) Kind() Kind   { return KindExecute }
func (t *browserEvaluateTool) Description() string {
	return "Evaluate a JavaScript expression in the current page and return its result. Runs with a hard timeout."
}
func (t *browserEvaluateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{"type": "string"},
			"script":     map[string]any{"type": "string"},
		},
		"required": []string{"session_id", "script"},
	}
}

func (t *browserEvaluateTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	result, err := t.ctl.Evaluate(ctx, strArg(args, "session_id"), strArg(args, "script"))
	if err != nil {
		return nil, err
	}
	return &Result{Output: jsonOutput(result), Success: true}, nil
}
