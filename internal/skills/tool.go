package skills

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nxclaw/nxclaw/internal/tool"
)

// PromoteToTool registers every promotable script (scripts/*.py,
// scripts/*.sh) under an enabled skill as a callable tool in reg. A script
// is promoted as a single-argument shell tool: the model supplies a
// free-text "args" string appended to the interpreter invocation.
func (m *Manager) PromoteToTool(id string, reg tool.Registry) (int, error) {
	skill, err := m.Show(id)
	if err != nil {
		return 0, err
	}
	if !skill.Enabled {
		return 0, fmt.Errorf("skill %s is disabled", id)
	}

	scriptsDir := filepath.Join(skill.Path, "scripts")
	entries, err := readScriptEntries(scriptsDir)
	if err != nil {
		return 0, fmt.Errorf("skill %s has no scripts/ directory: %w", id, err)
	}

	promoted := 0
	for _, name := range entries {
		ext := filepath.Ext(name)
		var interpreter string
		switch ext {
		case ".py":
			interpreter = "python3"
		case ".sh":
			interpreter = "bash"
		default:
			continue
		}

		toolName := skill.ID + "_" + strings.TrimSuffix(name, ext)
		scriptPath := filepath.Join(scriptsDir, name)
		description := fmt.Sprintf("Promoted from skill %q: %s", skill.Name, skill.Description)

		t := &scriptTool{
			name:        toolName,
			description: description,
			interpreter: interpreter,
			scriptPath:  scriptPath,
		}
		if err := reg.Register(t); err != nil {
			return promoted, fmt.Errorf("register tool %s: %w", toolName, err)
		}
		promoted++
	}

	if promoted == 0 {
		return 0, fmt.Errorf("skill %s has no promotable scripts (.py or .sh) in scripts/", id)
	}
	return promoted, nil
}

func readScriptEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".py" || ext == ".sh" {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

// scriptTool runs an installed skill's script with a single free-text
// argument string, capturing stdout/stderr as the tool result.
type scriptTool struct {
	name        string
	description string
	interpreter string
	scriptPath  string
}

func (t *scriptTool) Name() string        { return t.name }
func (t *scriptTool) Description() string { return t.description }
func (t *scriptTool) Kind() tool.Kind     { return tool.KindExecute }

func (t *scriptTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"args": map[string]any{
				"type":        "string",
				"description": "free-text arguments passed to the script",
			},
		},
	}
}

func (t *scriptTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	extra, _ := args["args"].(string)

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmdArgs := []string{t.scriptPath}
	if extra != "" {
		cmdArgs = append(cmdArgs, strings.Fields(extra)...)
	}
	cmd := exec.CommandContext(runCtx, t.interpreter, cmdArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &tool.Result{
		Output:  stdout.String(),
		Success: err == nil,
	}
	if err != nil {
		result.Error = fmt.Sprintf("%v: %s", err, stderr.String())
	}
	return result, nil
}
