package browser

import (
	"testing"
	"time"

	"github.com/nxclaw/nxclaw/internal/platform/apperr"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.Mode != ModeLaunch {
		t.Errorf("expected default mode %q, got %q", ModeLaunch, cfg.Mode)
	}
	if cfg.MaxSessions != defaultMaxSessions {
		t.Errorf("expected default max sessions %d, got %d", defaultMaxSessions, cfg.MaxSessions)
	}
	if cfg.CDPConnectTimeout != defaultCDPConnectTimeout {
		t.Errorf("expected default cdp connect timeout, got %v", cfg.CDPConnectTimeout)
	}
}

func TestConfigApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{Mode: ModeCDP, MaxSessions: 3, CDPConnectTimeout: 2 * time.Second}
	cfg.applyDefaults()
	if cfg.Mode != ModeCDP {
		t.Errorf("expected mode to remain %q, got %q", ModeCDP, cfg.Mode)
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("expected max sessions to remain 3, got %d", cfg.MaxSessions)
	}
}

func TestRefSelector(t *testing.T) {
	if got := refSelector(7); got != `[data-nx-ref="7"]` {
		t.Errorf("unexpected selector: %s", got)
	}
}

func TestRefNotFoundErr(t *testing.T) {
	err := refNotFoundErr(5)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Error("expected NotFound kind")
	}
	if err.Error() == "" {
		t.Error("expected a message")
	}
}

func TestIsNewTabURL(t *testing.T) {
	cases := map[string]bool{
		"about:blank":         true,
		"chrome://newtab/":    true,
		"about:newtab":        true,
		"https://example.com": false,
		"":                    false,
	}
	for url, want := range cases {
		if got := isNewTabURL(url); got != want {
			t.Errorf("isNewTabURL(%q) = %v, want %v", url, got, want)
		}
	}
}

func newFakeSession(id string, updatedAt time.Time) *Session {
	return &Session{
		ID:        id,
		UpdatedAt: updatedAt,
		elements:  make(map[int]Element),
		cancel:    func() {},
	}
}

func TestEvictLRULocatedClosesOldestSession(t *testing.T) {
	c := New(Config{}, nil, nil)
	now := time.Now()
	c.sessions["old"] = newFakeSession("old", now.Add(-time.Hour))
	c.sessions["mid"] = newFakeSession("mid", now.Add(-time.Minute))
	c.sessions["new"] = newFakeSession("new", now)

	c.evictLRULocked()

	if _, ok := c.sessions["old"]; ok {
		t.Error("expected oldest session to be evicted")
	}
	if len(c.sessions) != 2 {
		t.Errorf("expected 2 sessions remaining, got %d", len(c.sessions))
	}
}

func TestCloseSessionUnknownReturnsNotFound(t *testing.T) {
	c := New(Config{}, nil, nil)
	err := c.CloseSession("nope")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound error, got %v", err)
	}
}

func TestSessionTouchUpdatesTimestamp(t *testing.T) {
	sess := &Session{UpdatedAt: time.Now().Add(-time.Hour)}
	before := sess.UpdatedAt
	sess.touch()
	if !sess.UpdatedAt.After(before) {
		t.Error("expected touch to advance UpdatedAt")
	}
}

func TestClickByRefUnknownSessionReturnsNotFound(t *testing.T) {
	c := New(Config{}, nil, nil)
	err := c.ClickByRef(nil, "missing", 1)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound error, got %v", err)
	}
}

func TestClickByRefMissingRefReturnsDistinguishableError(t *testing.T) {
	c := New(Config{}, nil, nil)
	c.sessions["s1"] = newFakeSession("s1", time.Now())

	err := c.ClickByRef(nil, "s1", 42)
	if err == nil {
		t.Fatal("expected error for missing ref")
	}
	if got := err.Error(); got == "" {
		t.Error("expected non-empty error message")
	}
}

func TestSessionCount(t *testing.T) {
	c := New(Config{}, nil, nil)
	if c.SessionCount() != 0 {
		t.Errorf("expected 0 sessions, got %d", c.SessionCount())
	}
	c.sessions["a"] = newFakeSession("a", time.Now())
	if c.SessionCount() != 1 {
		t.Errorf("expected 1 session, got %d", c.SessionCount())
	}
}
