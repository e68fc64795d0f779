package main

import (
	"context"
	"testing"
	"time"

	"github.com/nxclaw/nxclaw/internal/logging"
	"github.com/nxclaw/nxclaw/internal/objectives"
)

func testLogConfig() logging.Config {
	return logging.Config{Level: "error", Format: "console"}
}

func TestBuildRuntimeWiresEveryComponent(t *testing.T) {
	home := t.TempDir()

	rt, err := buildRuntime(home, testLogConfig())
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer rt.shutdown()

	if rt.bus == nil || rt.memoryS == nil || rt.objectives == nil || rt.laneQ == nil ||
		rt.sessions == nil || rt.tasksM == nil || rt.browserC == nil || rt.skillsM == nil ||
		rt.toolExec == nil || rt.orch == nil || rt.auto == nil || rt.channels == nil ||
		rt.http == nil || rt.cliAdapter == nil {
		t.Fatalf("buildRuntime() left a component nil: %+v", rt)
	}
}

func TestBuildRuntimeIsIdempotentAcrossRestarts(t *testing.T) {
	home := t.TempDir()

	first, err := buildRuntime(home, testLogConfig())
	if err != nil {
		t.Fatalf("first buildRuntime() error = %v", err)
	}
	if _, err := first.objectives.Add(objectives.AddInput{Title: "survive a restart", Source: "test"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	first.shutdown()

	second, err := buildRuntime(home, testLogConfig())
	if err != nil {
		t.Fatalf("second buildRuntime() error = %v", err)
	}
	defer second.shutdown()

	items := second.objectives.List("")
	if len(items) != 1 || items[0].Title != "survive a restart" {
		t.Fatalf("objectives did not survive restart: %+v", items)
	}
}

func TestOrchestratorAdapterRoutesThroughHandleIncoming(t *testing.T) {
	home := t.TempDir()
	rt, err := buildRuntime(home, testLogConfig())
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer rt.shutdown()

	adapter := orchestratorAdapter{orch: rt.orch}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply := rt.cliAdapter.Once(ctx, "hello")
	if reply == "" {
		t.Fatalf("cliAdapter.Once() returned an empty reply")
	}
	adapter.SetChannelHealth("cli", true)
}
