package tool

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
)

type erroringTool struct{ fakeTool }

func (e *erroringTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	return nil, errors.New("boom")
}

func newTestExecutor(t *testing.T, pol Policy) (*Executor, Registry) {
	t.Helper()
	bus, err := eventbus.New(eventbus.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg := NewInMemoryRegistry()
	return NewExecutor(reg, pol, bus, zap.NewNop()), reg
}

func TestExecutorExecuteSuccess(t *testing.T) {
	exec, reg := newTestExecutor(t, Policy{})
	_ = reg.Register(&fakeTool{name: "a", kind: KindRead})

	res, err := exec.Execute(context.Background(), Call{Name: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Output != "ok" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestExecutorExecuteUnknownTool(t *testing.T) {
	exec, _ := newTestExecutor(t, Policy{})
	if _, err := exec.Execute(context.Background(), Call{Name: "missing"}); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestExecutorExecuteDeniedByPolicy(t *testing.T) {
	exec, reg := newTestExecutor(t, Policy{DenyList: map[string]bool{"a": true}})
	_ = reg.Register(&fakeTool{name: "a", kind: KindRead})

	res, err := exec.Execute(context.Background(), Call{Name: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected denied call to report failure")
	}
}

func TestExecutorExecutePropagatesToolError(t *testing.T) {
	exec, reg := newTestExecutor(t, Policy{})
	_ = reg.Register(&erroringTool{fakeTool{name: "a", kind: KindRead}})

	if _, err := exec.Execute(context.Background(), Call{Name: "a"}); err == nil {
		t.Error("expected tool error to propagate")
	}
}

func TestExecutorDefinitionsRespectsPolicy(t *testing.T) {
	exec, reg := newTestExecutor(t, Policy{DenyList: map[string]bool{"a": true}})
	_ = reg.Register(&fakeTool{name: "a", kind: KindRead})
	_ = reg.Register(&fakeTool{name: "b", kind: KindRead})

	defs := exec.Definitions()
	if len(defs) != 1 || defs[0].Name != "b" {
		t.Errorf("unexpected definitions: %+v", defs)
	}
}

func TestExecutorNeedsApproval(t *testing.T) {
	exec, reg := newTestExecutor(t, Policy{AskMode: AskModeMutate})
	_ = reg.Register(&fakeTool{name: "a", kind: KindExecute})

	ok, err := exec.NeedsApproval(Call{Name: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected execute-kind tool to need approval under mutate mode")
	}
}
