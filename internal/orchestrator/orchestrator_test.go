package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/llm"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// stubClient is a fake llm.Client whose replies are scripted per call.
type stubClient struct {
	replies []string
	errs    []error
	calls   int
}

func (s *stubClient) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	reply := "ok"
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return &llm.Response{Content: reply}, nil
}

type alwaysAuthed struct{}

func (alwaysAuthed) IsAuthenticated(ctx context.Context) bool { return true }

type neverAuthed struct{}

func (neverAuthed) IsAuthenticated(ctx context.Context) bool { return false }

func newTestOrchestrator(t *testing.T, client llm.Client) (*Orchestrator, func()) {
	t.Helper()
	dir := t.TempDir()

	bus, err := eventbus.New(eventbus.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("eventbus.New() error = %v", err)
	}

	mem, err := memory.New(memory.Config{RootDir: filepath.Join(dir, "memory")}, bus, zap.NewNop())
	if err != nil {
		t.Fatalf("memory.New() error = %v", err)
	}

	objs, err := objectives.Open(filepath.Join(dir, "objectives.json"), bus, zap.NewNop())
	if err != nil {
		t.Fatalf("objectives.Open() error = %v", err)
	}

	tm, err := tasks.New(tasks.Config{StateDir: filepath.Join(dir, "tasks")}, bus, zap.NewNop())
	if err != nil {
		t.Fatalf("tasks.New() error = %v", err)
	}

	laneQ := lane.New(64, bus, zap.NewNop())
	sessions := session.New(session.Config{}, bus, zap.NewNop())

	sess := llm.NewSession(client, llm.Config{Model: "test-model"})

	o := New(Config{StateDir: dir}, Deps{
		Lane:       laneQ,
		Sessions:   sessions,
		Memory:     mem,
		Objectives: objs,
		Tasks:      tm,
		LLM:        sess,
		Bus:        bus,
		Auth:       alwaysAuthed{},
		Logger:     zap.NewNop(),
	})

	cleanup := func() {
		o.Shutdown()
		mem.Close()
		bus.Close()
	}
	return o, cleanup
}

func TestHandleIncomingRejectsUnauthenticated(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, &stubClient{})
	defer cleanup()
	o.Auth = neverAuthed{}

	got := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "c1", UserID: "u1", Text: "hi"})
	if got != authRequiredMessage {
		t.Fatalf("HandleIncoming() = %q, want auth-required message", got)
	}
}

func TestHandleIncomingRejectsOverQueueDepth(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, &stubClient{})
	defer cleanup()
	o.cfg.MaxQueueDepth = 0 // force the pre-check to trip; applyDefaults already ran

	got := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "c1", UserID: "u1", Text: "hi"})
	if got == authRequiredMessage {
		t.Fatalf("HandleIncoming() unexpectedly hit the auth gate")
	}
	if !strings.HasPrefix(got, "Runtime error: queue depth") {
		t.Fatalf("HandleIncoming() = %q, want the queue-depth rejection", got)
	}
}

func TestHandleIncomingRoundTrip(t *testing.T) {
	client := &stubClient{replies: []string{"hello there"}}
	o, cleanup := newTestOrchestrator(t, client)
	defer cleanup()

	got := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "c1", UserID: "u1", Text: "hi"})
	if got != "hello there" {
		t.Fatalf("HandleIncoming() = %q, want %q", got, "hello there")
	}

	safe := sanitizeIncoming(Incoming{Source: "cli", ChannelID: "c1", UserID: "u1"})
	recent := o.Memory.RecentRaw(fsutil.SafeSessionKey(safe.laneKey()), 10)
	if len(recent) != 2 {
		t.Fatalf("len(RecentRaw()) = %d, want 2 (user + assistant turn)", len(recent))
	}
}

func TestHandleIncomingJournalsImportantReplies(t *testing.T) {
	client := &stubClient{replies: []string{"I will always remember your birthday"}}
	o, cleanup := newTestOrchestrator(t, client)
	defer cleanup()

	o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "c1", UserID: "u1", Text: "remember this"})

	wm := o.Memory.BuildWorkingMemory()
	if memory.WorkingMemoryPreview(wm) == "" {
		t.Fatalf("expected a non-empty working memory preview after an important reply")
	}
}

type overflowErr struct{}

func (overflowErr) Error() string { return "maximum context length exceeded" }

func TestPromptWithRetryTrimsContextOnOverflow(t *testing.T) {
	client := &stubClient{
		errs:    []error{overflowErr{}, overflowErr{}, nil},
		replies: []string{"", "", "recovered"},
	}
	o, cleanup := newTestOrchestrator(t, client)
	defer cleanup()
	o.cfg.MaxPromptRetries = 3
	o.cfg.MaxOverflowCompactionAttempts = 2

	got := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "c1", UserID: "u1", Text: "hi"})
	if got != "recovered" {
		t.Fatalf("HandleIncoming() = %q, want %q", got, "recovered")
	}
	if client.calls != 3 {
		t.Fatalf("client.calls = %d, want 3", client.calls)
	}
}

func TestPromptWithRetryFailsAfterExhaustingAttempts(t *testing.T) {
	client := &stubClient{errs: []error{
		errors.New("boom"), errors.New("boom"),
	}}
	o, cleanup := newTestOrchestrator(t, client)
	defer cleanup()
	o.cfg.MaxPromptRetries = 2

	got := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "c1", UserID: "u1", Text: "hi"})
	if !strings.HasPrefix(got, "Runtime error: ") || !strings.Contains(got, "prompt failed after retries") {
		t.Fatalf("HandleIncoming() = %q, want a runtime error mentioning the exhausted retries", got)
	}
}

func TestGetStateReportsAggregateStatus(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, &stubClient{})
	defer cleanup()

	state := o.GetState(StateOptions{})
	if _, ok := state["queueDepth"]; !ok {
		t.Fatalf("GetState() missing queueDepth key: %+v", state)
	}
	if _, ok := state["channelHealth"]; !ok {
		t.Fatalf("GetState() missing channelHealth key: %+v", state)
	}
}

func TestCreateAndArchiveConversationSession(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, &stubClient{})
	defer cleanup()

	sess, err := o.CreateConversationSession("cli", "c2", "u2", "")
	if err != nil {
		t.Fatalf("CreateConversationSession() error = %v", err)
	}
	if sess == nil {
		t.Fatalf("CreateConversationSession() returned nil session")
	}

	found := false
	for _, s := range o.ListConversationSessions() {
		if s.LaneKey == sess.LaneKey {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListConversationSessions() did not include the created session")
	}

	if err := o.ArchiveConversationSession(sess.LaneKey); err != nil {
		t.Fatalf("ArchiveConversationSession() error = %v", err)
	}
}

func TestDebugLanesAndTasks(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, &stubClient{})
	defer cleanup()

	if lanes := o.DebugLanes(); len(lanes) != 0 {
		t.Fatalf("DebugLanes() = %v, want empty slice", lanes)
	}

	task, err := o.Tasks.EnqueueCommand(tasks.RunInput{Name: "sweep", Command: "true"})
	if err != nil {
		t.Fatalf("Tasks.EnqueueCommand() error = %v", err)
	}

	found := false
	for _, tk := range o.DebugTasks() {
		if tk.ID == task.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("DebugTasks() did not include the enqueued task")
	}
}

func TestSetChannelHealth(t *testing.T) {
	o, cleanup := newTestOrchestrator(t, &stubClient{})
	defer cleanup()

	o.SetChannelHealth("slack", false)
	state := o.GetState(StateOptions{})
	health, _ := state["channelHealth"].(map[string]bool)
	if health["slack"] != false {
		t.Fatalf("channelHealth[slack] = %v, want false", health["slack"])
	}
}
