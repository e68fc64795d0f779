package eventbus

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestEmitAssignsMonotonicSeq(t *testing.T) {
	b, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	a := b.Emit(TypeTaskQueued, nil)
	c := b.Emit(TypeTaskStart, nil)
	if a.Seq != 1 || c.Seq != 2 {
		t.Errorf("expected seq 1,2 got %d,%d", a.Seq, c.Seq)
	}
	if a.Ts == 0 || c.Ts == 0 {
		t.Error("expected non-zero timestamps")
	}
}

func TestRecentReturnsOrderedTail(t *testing.T) {
	b, err := New(Config{BufferSize: 3}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	for i := 0; i < 5; i++ {
		b.Emit(TypeTaskOutput, i)
	}

	recent := b.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(recent))
	}
	if recent[0].Payload.(int) != 2 || recent[2].Payload.(int) != 4 {
		t.Errorf("expected oldest-first tail [2,3,4], got %v %v %v", recent[0].Payload, recent[1].Payload, recent[2].Payload)
	}

	limited := b.Recent(2)
	if len(limited) != 2 || limited[1].Payload.(int) != 4 {
		t.Errorf("expected limit to keep the newest 2, got %v", limited)
	}
}

func TestOnNotifiesSynchronouslyAndUnsubscribes(t *testing.T) {
	b, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	var count atomic.Int32
	unsub := b.On(func(ev Event) {
		count.Add(1)
	})

	b.Emit(TypeError, "boom")
	if count.Load() != 1 {
		t.Fatalf("expected synchronous delivery, got count=%d", count.Load())
	}

	unsub()
	b.Emit(TypeError, "again")
	if count.Load() != 1 {
		t.Errorf("expected no further delivery after unsubscribe, got count=%d", count.Load())
	}
}

func TestListenerPanicDoesNotBreakBus(t *testing.T) {
	b, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	b.On(func(ev Event) { panic("listener exploded") })

	var safeCount atomic.Int32
	b.On(func(ev Event) { safeCount.Add(1) })

	b.Emit(TypeError, nil)
	if safeCount.Load() != 1 {
		t.Errorf("expected the safe listener to still run, got %d", safeCount.Load())
	}
}

func TestFlushWritesJSONLAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	b, err := New(Config{
		LogPath:       path,
		FlushInterval: 5 * time.Millisecond,
		MaxFileBytes:  1, // force rotation on first flush
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.Emit(TypeTaskStart, map[string]string{"task_id": "t1"})
	b.Emit(TypeTaskEnd, map[string]string{"task_id": "t1"})

	time.Sleep(50 * time.Millisecond)
	b.Close()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated backup file to exist: %v", err)
	}
}

func TestCloseFlushesPendingBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	b, err := New(Config{
		LogPath:       path,
		FlushInterval: time.Hour, // never fires on its own
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.Emit(TypeTaskQueued, nil)
	b.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file to exist after Close: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected Close to flush pending events to disk")
	}
}

func TestEmitAfterCloseIsNoop(t *testing.T) {
	b, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Close()

	ev := b.Emit(TypeError, nil)
	if ev.Seq != 0 {
		t.Errorf("expected zero-value event after close, got %+v", ev)
	}
}
