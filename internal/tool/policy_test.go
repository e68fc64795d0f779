package tool

import "testing"

func TestPolicyIsAllowedDefault(t *testing.T) {
	p := Policy{}
	if !p.IsAllowed("anything", KindExecute) {
		t.Error("expected zero-value policy to allow everything")
	}
}

func TestPolicyDenyList(t *testing.T) {
	p := Policy{DenyList: map[string]bool{"run_command": true}}
	if p.IsAllowed("run_command", KindExecute) {
		t.Error("expected denied tool to be disallowed")
	}
	if !p.IsAllowed("other", KindExecute) {
		t.Error("expected non-denied tool to remain allowed")
	}
}

func TestPolicyAllowList(t *testing.T) {
	p := Policy{AllowList: map[string]bool{"memory_search": true}}
	if !p.IsAllowed("memory_search", KindSearch) {
		t.Error("expected allow-listed tool to be allowed")
	}
	if p.IsAllowed("run_command", KindExecute) {
		t.Error("expected tool outside allow-list to be disallowed")
	}
}

func TestPolicyNeedsConfirmation(t *testing.T) {
	never := Policy{AskMode: AskModeNever}
	if never.NeedsConfirmation("run_command", KindExecute) {
		t.Error("never mode should not require confirmation")
	}

	mutate := Policy{AskMode: AskModeMutate}
	if !mutate.NeedsConfirmation("run_command", KindExecute) {
		t.Error("mutate mode should confirm execute-kind tools")
	}
	if mutate.NeedsConfirmation("memory_search", KindSearch) {
		t.Error("mutate mode should not confirm safe-kind tools")
	}

	always := Policy{AskMode: AskModeAlways}
	if !always.NeedsConfirmation("memory_search", KindSearch) {
		t.Error("always mode should confirm every tool")
	}
}

func TestPolicyEnforcerFilteredList(t *testing.T) {
	reg := NewInMemoryRegistry()
	_ = reg.Register(&fakeTool{name: "allowed", kind: KindRead})
	_ = reg.Register(&fakeTool{name: "denied", kind: KindExecute})

	enf := NewPolicyEnforcer(Policy{DenyList: map[string]bool{"denied": true}})
	defs := enf.FilteredList(reg)
	if len(defs) != 1 || defs[0].Name != "allowed" {
		t.Errorf("unexpected filtered list: %+v", defs)
	}
}
