package browser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nxclaw/nxclaw/internal/platform/apperr"
)

func TestSnapshotUnknownSessionReturnsNotFound(t *testing.T) {
	c := New(Config{}, nil, nil)
	_, err := c.Snapshot(nil, "missing", 0)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound error, got %v", err)
	}
}

func TestSnapshotScriptEmbedsMaxElements(t *testing.T) {
	script := fmt.Sprintf(snapshotScript, 37)
	if !strings.Contains(script, "(37)") {
		t.Errorf("expected script to embed max element count, got: %s", script)
	}
	if !strings.Contains(script, "data-nx-ref") {
		t.Error("expected script to reference the data-nx-ref attribute")
	}
}
