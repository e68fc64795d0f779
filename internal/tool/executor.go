package tool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
)

// Call is a single request to run a named tool with a set of arguments.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Executor dispatches Calls against a Registry, enforcing a Policy and
// emitting a structured log line plus a bus event per invocation.
type Executor struct {
	registry Registry
	policy   *PolicyEnforcer
	bus      *eventbus.Bus
	logger   *zap.Logger
}

// NewExecutor wires a registry and policy into a single dispatch point.
func NewExecutor(reg Registry, pol Policy, bus *eventbus.Bus, logger *zap.Logger) *Executor {
	return &Executor{
		registry: reg,
		policy:   NewPolicyEnforcer(pol),
		bus:      bus,
		logger:   logger.With(zap.String("component", "tool")),
	}
}

// Definitions returns the tool definitions visible under the executor's
// policy, suitable for handing to an LLM as its available function set.
func (e *Executor) Definitions() []Definition {
	return e.policy.FilteredList(e.registry)
}

// NeedsApproval reports whether call must be confirmed before Execute runs
// it.
func (e *Executor) NeedsApproval(call Call) (bool, error) {
	t, ok := e.registry.Get(call.Name)
	if !ok {
		return false, fmt.Errorf("tool: %s not found", call.Name)
	}
	return e.policy.NeedsApproval(call.Name, t.Kind()), nil
}

// Execute looks up, policy-checks, and runs the named tool, returning its
// Result. Panics inside a tool's Execute are not recovered here; callers
// running Execute on a background goroutine should wrap it with
// platform/safego.
func (e *Executor) Execute(ctx context.Context, call Call) (*Result, error) {
	start := time.Now()
	t, ok := e.registry.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("tool: %s not found", call.Name)
	}

	if !e.policy.CanExecute(call.Name, t.Kind()) {
		e.logger.Warn("tool call denied by policy", zap.String("tool", call.Name))
		if e.bus != nil {
			e.bus.Emit(eventbus.TypeToolDenied, map[string]any{"name": call.Name, "call_id": call.ID})
		}
		return &Result{Success: false, Error: fmt.Sprintf("tool %s is not permitted by the current policy", call.Name)}, nil
	}

	res, err := t.Execute(ctx, call.Args)
	dur := time.Since(start)

	fields := []zap.Field{
		zap.String("tool", call.Name),
		zap.Duration("duration", dur),
	}
	if err != nil {
		e.logger.Error("tool call failed", append(fields, zap.Error(err))...)
		if e.bus != nil {
			e.bus.Emit(eventbus.TypeToolCalled, map[string]any{
				"name": call.Name, "call_id": call.ID, "success": false, "error": err.Error(), "duration_ms": dur.Milliseconds(),
			})
		}
		return nil, err
	}

	e.logger.Info("tool call completed", append(fields, zap.Bool("success", res.Success))...)
	if e.bus != nil {
		e.bus.Emit(eventbus.TypeToolCalled, map[string]any{
			"name": call.Name, "call_id": call.ID, "success": res.Success, "duration_ms": dur.Milliseconds(),
		})
	}
	return res, nil
}
