package tool

import "testing"

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s": "hello",
		"i": float64(42),
		"b": true,
	}
	if strArg(args, "s") != "hello" {
		t.Errorf("strArg: got %q", strArg(args, "s"))
	}
	if intArg(args, "i") != 42 {
		t.Errorf("intArg: got %d", intArg(args, "i"))
	}
	if !boolArg(args, "b") {
		t.Error("boolArg: expected true")
	}
	if strArg(args, "missing") != "" {
		t.Error("strArg: expected empty string for missing key")
	}
	if intArg(args, "missing") != 0 {
		t.Error("intArg: expected zero for missing key")
	}
}

func TestRegisterAllWithNoDeps(t *testing.T) {
	reg := NewInMemoryRegistry()
	if err := RegisterAll(reg, Deps{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Errorf("expected no tools registered with empty deps, got %d", len(reg.List()))
	}
}
