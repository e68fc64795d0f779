package tool

// AskMode controls how aggressively the dispatcher asks for confirmation
// before running a tool.
type AskMode string

const (
	AskModeNever  AskMode = "never"
	AskModeMutate AskMode = "mutate"
	AskModeAlways AskMode = "always"
)

// Policy restricts which tools may run and when confirmation is required.
// The zero value allows every tool and never asks.
type Policy struct {
	Profile     string
	AllowList   map[string]bool
	DenyList    map[string]bool
	AskMode     AskMode
	MaxExecTime int // seconds, 0 means no override
}

// IsAllowed reports whether name may run at all under this policy.
func (p Policy) IsAllowed(name string, kind Kind) bool {
	if p.DenyList != nil && p.DenyList[name] {
		return false
	}
	if p.AllowList != nil && len(p.AllowList) > 0 {
		return p.AllowList[name]
	}
	return true
}

// NeedsConfirmation reports whether a call to name must be confirmed by an
// operator before executing.
func (p Policy) NeedsConfirmation(name string, kind Kind) bool {
	switch p.AskMode {
	case AskModeAlways:
		return true
	case AskModeMutate:
		if SafeKinds[kind] {
			return false
		}
		return MutatorKinds[kind] || !SafeKinds[kind]
	default:
		return false
	}
}

// PolicyEnforcer applies a Policy against a Registry's tool set.
type PolicyEnforcer struct {
	policy Policy
}

// NewPolicyEnforcer builds an enforcer for the given policy.
func NewPolicyEnforcer(p Policy) *PolicyEnforcer {
	return &PolicyEnforcer{policy: p}
}

// FilteredList returns only the definitions the policy allows.
func (e *PolicyEnforcer) FilteredList(reg Registry) []Definition {
	all := reg.List()
	out := make([]Definition, 0, len(all))
	for _, d := range all {
		t, ok := reg.Get(d.Name)
		if !ok {
			continue
		}
		if e.policy.IsAllowed(d.Name, t.Kind()) {
			out = append(out, d)
		}
	}
	return out
}

// CanExecute reports whether name is permitted to run under this policy.
func (e *PolicyEnforcer) CanExecute(name string, kind Kind) bool {
	return e.policy.IsAllowed(name, kind)
}

// NeedsApproval reports whether name requires operator confirmation.
func (e *PolicyEnforcer) NeedsApproval(name string, kind Kind) bool {
	return e.policy.NeedsConfirmation(name, kind)
}
