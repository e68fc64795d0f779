package channels

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type stubHandler struct {
	lastMsg Message
	reply   string
}

func (s *stubHandler) HandleIncoming(ctx context.Context, msg Message) string {
	s.lastMsg = msg
	if s.reply != "" {
		return s.reply
	}
	return "echo: " + msg.Text
}

type stubHealth struct {
	healthy map[string]bool
}

func (s *stubHealth) SetChannelHealth(channel string, healthy bool) {
	if s.healthy == nil {
		s.healthy = map[string]bool{}
	}
	s.healthy[channel] = healthy
}

func TestCLIAdapterOnceRoutesThroughHandler(t *testing.T) {
	h := &stubHandler{}
	a := NewCLIAdapter(h, nil, CLIConfig{UserID: "u1", SessionID: "s1"}, zap.NewNop())

	reply := a.Once(context.Background(), "hello there")
	if reply != "echo: hello there" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if h.lastMsg.Source != "cli" || h.lastMsg.UserID != "u1" || h.lastMsg.SessionID != "s1" {
		t.Fatalf("unexpected message passed to handler: %+v", h.lastMsg)
	}
}

func TestCLIAdapterRunProcessesEachLine(t *testing.T) {
	h := &stubHandler{}
	in := strings.NewReader("first\nsecond\n\nthird\n")
	var out bytes.Buffer
	a := NewCLIAdapter(h, nil, CLIConfig{In: in, Out: &out}, zap.NewNop())

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	for _, want := range []string{"echo: first", "echo: second", "echo: third"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
	if strings.Count(got, "echo:") != 3 {
		t.Fatalf("expected blank line to be skipped, got output %q", got)
	}
}

func TestCLIAdapterStartStopReportsHealth(t *testing.T) {
	health := &stubHealth{}
	a := NewCLIAdapter(&stubHandler{}, health, CLIConfig{}, zap.NewNop())

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !health.healthy["cli"] {
		t.Fatalf("expected cli channel reported healthy after Start")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if health.healthy["cli"] {
		t.Fatalf("expected cli channel reported unhealthy after Stop")
	}
}

func TestUnconfiguredAdapterStartFailsAndReportsUnhealthy(t *testing.T) {
	health := &stubHealth{}
	a := NewSlackAdapter(health)

	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("expected Start to fail for unconfigured slack adapter")
	}
	if health.healthy["slack"] {
		t.Fatalf("expected slack channel reported unhealthy")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop should be a no-op: %v", err)
	}
}

func TestRegistryStartCollectsFirstErrorButStartsAll(t *testing.T) {
	health := &stubHealth{}
	r := NewRegistry(zap.NewNop())
	r.Register(NewSlackAdapter(health))
	cli := NewCLIAdapter(&stubHandler{}, health, CLIConfig{}, zap.NewNop())
	r.Register(cli)

	err := r.Start(context.Background())
	if err == nil {
		t.Fatalf("expected Start to surface the slack adapter's error")
	}
	if !health.healthy["cli"] {
		t.Fatalf("expected cli adapter to still start despite slack failing")
	}

	r.Stop(context.Background())
	if health.healthy["cli"] {
		t.Fatalf("expected cli adapter stopped")
	}
}
