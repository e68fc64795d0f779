package autonomous

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

type fakeHandler struct {
	mu      sync.Mutex
	replies []string
	calls   []HandlerIncoming
}

func (f *fakeHandler) HandleIncoming(ctx context.Context, in HandlerIncoming) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if len(f.replies) == 0 {
		return "ok"
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestLoop(t *testing.T, handler Handler, cfg Config) (*Loop, *eventbus.Bus) {
	t.Helper()
	dir := t.TempDir()

	bus, err := eventbus.New(eventbus.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("eventbus.New() error = %v", err)
	}
	t.Cleanup(bus.Close)

	objs, err := objectives.Open(filepath.Join(dir, "objectives.json"), bus, zap.NewNop())
	if err != nil {
		t.Fatalf("objectives.Open() error = %v", err)
	}

	tm, err := tasks.New(tasks.Config{StateDir: filepath.Join(dir, "tasks")}, bus, zap.NewNop())
	if err != nil {
		t.Fatalf("tasks.New() error = %v", err)
	}

	laneQ := lane.New(64, bus, zap.NewNop())

	cfg.Enabled = true
	loop := New(cfg, Deps{
		Handler:    handler,
		Objectives: objs,
		Tasks:      tm,
		Lane:       laneQ,
		Bus:        bus,
		Logger:     zap.NewNop(),
	})
	return loop, bus
}

func TestTickRunsMaintenancePromptWhenNoObjectives(t *testing.T) {
	h := &fakeHandler{}
	loop, _ := newTestLoop(t, h, Config{Goal: "check things"})

	loop.tick(context.Background())

	if h.callCount() != 1 {
		t.Fatalf("callCount = %d, want 1", h.callCount())
	}
	if h.calls[0].Source != "autonomous" {
		t.Fatalf("Source = %q, want %q", h.calls[0].Source, "autonomous")
	}
}

func TestTickPicksPendingObjective(t *testing.T) {
	h := &fakeHandler{}
	loop, _ := newTestLoop(t, h, Config{})

	obj, err := loop.Objectives.Add(objectives.AddInput{Title: "write docs", Priority: 1, Source: "test"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	loop.tick(context.Background())

	if h.callCount() != 1 {
		t.Fatalf("callCount = %d, want 1", h.callCount())
	}
	if h.calls[0].SessionID != obj.ID {
		t.Fatalf("SessionID = %q, want %q", h.calls[0].SessionID, obj.ID)
	}

	picked := loop.Objectives.GetByID(obj.ID)
	if picked.Status != objectives.StatusInProgress {
		t.Fatalf("Status = %q, want %q", picked.Status, objectives.StatusInProgress)
	}
}

func TestTickSkipsWhenQueueDepthExceeded(t *testing.T) {
	h := &fakeHandler{}
	loop, _ := newTestLoop(t, h, Config{SkipWhenQueueAbove: 1})

	blockCh := make(chan struct{})
	go loop.Lane.Enqueue(context.Background(), "lane-a", func(ctx context.Context) (any, error) {
		<-blockCh
		return nil, nil
	})
	go loop.Lane.Enqueue(context.Background(), "lane-b", func(ctx context.Context) (any, error) {
		<-blockCh
		return nil, nil
	})
	// Give both enqueues a moment to register before sampling depth.
	time.Sleep(20 * time.Millisecond)

	loop.tick(context.Background())
	close(blockCh)

	if h.callCount() != 0 {
		t.Fatalf("callCount = %d, want 0 (skipped for queue depth)", h.callCount())
	}
}

func TestTickLatchesDisabledAfterMaxConsecutiveFailures(t *testing.T) {
	h := &fakeHandler{replies: []string{"Runtime error: boom", "Runtime error: boom"}}
	loop, _ := newTestLoop(t, h, Config{MaxConsecutiveFails: 2})

	loop.tick(context.Background())
	loop.tick(context.Background())
	status := loop.Status()
	if status.DisabledReason == "" {
		t.Fatalf("expected DisabledReason to be set after %d consecutive failures", status.ConsecutiveFails)
	}

	loop.tick(context.Background())
	if h.callCount() != 2 {
		t.Fatalf("callCount = %d, want 2 (third tick should have been skipped, latched disabled)", h.callCount())
	}
}

func TestReconfigureClearsDisabledLatch(t *testing.T) {
	h := &fakeHandler{replies: []string{"Runtime error: boom"}}
	loop, _ := newTestLoop(t, h, Config{MaxConsecutiveFails: 1})

	loop.tick(context.Background())
	if loop.Status().DisabledReason == "" {
		t.Fatalf("expected loop to be disabled after one failure with MaxConsecutiveFails=1")
	}

	loop.Reconfigure(Config{Enabled: true, MaxConsecutiveFails: 1})
	if loop.Status().DisabledReason != "" {
		t.Fatalf("Reconfigure() did not clear DisabledReason")
	}
}

func TestStartMarksLoopRunning(t *testing.T) {
	h := &fakeHandler{}
	loop, _ := newTestLoop(t, h, Config{IntervalMs: 5000})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	defer loop.Stop()

	loop.mu.Lock()
	running := loop.running
	loop.mu.Unlock()
	if !running {
		t.Fatalf("expected loop to be running after Start()")
	}
}

func TestIsRuntimeError(t *testing.T) {
	if !isRuntimeError("Runtime error: queue depth exceeded") {
		t.Fatalf("expected prefix match to report true")
	}
	if isRuntimeError("all good") {
		t.Fatalf("expected non-error reply to report false")
	}
}
