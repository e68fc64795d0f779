package session

import (
	"testing"
	"time"
)

func TestAcquireOrCreateReturnsSameSessionOnRepeat(t *testing.T) {
	r := New(Config{}, nil, nil)
	a := r.AcquireOrCreate("lane-1", "lane-1", "telegram", "chat-1", "")
	b := r.AcquireOrCreate("lane-1", "lane-1", "telegram", "chat-1", "")
	if a.CreatedAt != b.CreatedAt {
		t.Error("expected the same session to be returned for the same lane key")
	}
}

func TestTouchIncrementsMessageCount(t *testing.T) {
	r := New(Config{}, nil, nil)
	r.AcquireOrCreate("lane-1", "lane-1", "telegram", "chat-1", "")
	r.Touch("lane-1")
	r.Touch("lane-1")

	if got := r.Get("lane-1").MessageCount; got != 2 {
		t.Errorf("expected message count 2, got %d", got)
	}
}

func TestArchiveRejectsRunningSession(t *testing.T) {
	r := New(Config{}, nil, nil)
	r.AcquireOrCreate("lane-1", "lane-1", "telegram", "chat-1", "")
	r.SetRunning("lane-1", true)

	if err := r.Archive("lane-1"); err == nil {
		t.Fatal("expected archive to reject a running session")
	}

	r.SetRunning("lane-1", false)
	if err := r.Archive("lane-1"); err != nil {
		t.Fatalf("expected archive to succeed once not running: %v", err)
	}
	if r.Get("lane-1") != nil {
		t.Error("expected session to be gone after archive")
	}
}

func TestCapacityEvictsLeastRecentlyUsedNonRunning(t *testing.T) {
	r := New(Config{MaxLanes: 2}, nil, nil)

	r.AcquireOrCreate("lane-1", "lane-1", "s", "c", "")
	time.Sleep(2 * time.Millisecond)
	r.AcquireOrCreate("lane-2", "lane-2", "s", "c", "")
	time.Sleep(2 * time.Millisecond)
	r.AcquireOrCreate("lane-3", "lane-3", "s", "c", "")

	if len(r.List()) != 2 {
		t.Fatalf("expected capacity-enforced count of 2, got %d", len(r.List()))
	}
	if r.Get("lane-1") != nil {
		t.Error("expected the oldest lane to be evicted")
	}
	if r.Get("lane-3") == nil {
		t.Error("expected the newest lane to survive")
	}
}

func TestCapacityNeverEvictsRunningSessions(t *testing.T) {
	r := New(Config{MaxLanes: 1}, nil, nil)

	r.AcquireOrCreate("lane-1", "lane-1", "s", "c", "")
	r.SetRunning("lane-1", true)
	time.Sleep(time.Millisecond)
	r.AcquireOrCreate("lane-2", "lane-2", "s", "c", "")

	if r.Get("lane-1") == nil {
		t.Error("expected running lane-1 to survive despite exceeding capacity")
	}
}

func TestEvictIdleRemovesStaleNonRunningSessions(t *testing.T) {
	r := New(Config{IdleTimeout: 10 * time.Millisecond}, nil, nil)
	r.AcquireOrCreate("lane-1", "lane-1", "s", "c", "")
	r.SetRunning("lane-1", false)

	time.Sleep(20 * time.Millisecond)
	r.evictIdle()

	if r.Get("lane-1") != nil {
		t.Error("expected idle session to be evicted")
	}
}

func TestEvictIdleSparesRunningSessions(t *testing.T) {
	r := New(Config{IdleTimeout: 10 * time.Millisecond}, nil, nil)
	r.AcquireOrCreate("lane-1", "lane-1", "s", "c", "")
	r.SetRunning("lane-1", true)

	time.Sleep(20 * time.Millisecond)
	r.evictIdle()

	if r.Get("lane-1") == nil {
		t.Error("expected running session to survive idle sweep")
	}
}
