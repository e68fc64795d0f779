// Package channels defines the runtime's external-channel boundary: the
// interface every chat adapter (Slack, Telegram, CLI, dashboard) is
// expected to satisfy to feed turns into the orchestrator and report its
// own health back. Concrete chat-platform wiring (Slack/Telegram SDK
// clients, webhook verification, rich message formatting) is outside this
// runtime's scope — it is treated as an external collaborator per the
// component boundary — so this package stops at the interface and a
// minimal in-process adapter used by the CLI's `--once` mode and tests.
package channels

import (
	"context"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/platform/apperr"
)

// Message is one inbound turn handed to Handler by any Adapter.
type Message struct {
	Source    string
	ChannelID string
	UserID    string
	SessionID string
	Text      string
}

// Handler is the structural shape of orchestrator.Orchestrator.HandleIncoming,
// redeclared here so this package never imports internal/orchestrator —
// the same one-way dependency discipline internal/autonomous uses for its
// own Handler interface.
type Handler interface {
	HandleIncoming(ctx context.Context, msg Message) string
}

// HealthReporter is the structural shape of
// orchestrator.Orchestrator.SetChannelHealth.
type HealthReporter interface {
	SetChannelHealth(channel string, healthy bool)
}

// Adapter is one external channel's lifecycle: start listening, stop
// cleanly. Adapters report their own health through the HealthReporter
// they were constructed with; Registry does not poll them.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry owns every configured Adapter and starts/stops them together,
// so cmd's composition root does not need to track a slice by hand.
type Registry struct {
	adapters []Adapter
	logger   *zap.Logger
}

// NewRegistry builds an empty Registry. logger may be nil.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger.With(zap.String("component", "channels"))}
}

// Register adds an adapter. Call before Start.
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// Start starts every registered adapter, collecting (not stopping on) the
// first error so one misconfigured channel does not prevent the others
// from starting.
func (r *Registry) Start(ctx context.Context) error {
	var firstErr error
	for _, a := range r.adapters {
		if err := a.Start(ctx); err != nil {
			r.logger.Error("adapter failed to start", zap.String("adapter", a.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.logger.Info("adapter started", zap.String("adapter", a.Name()))
	}
	return firstErr
}

// Stop stops every registered adapter, best-effort.
func (r *Registry) Stop(ctx context.Context) {
	for _, a := range r.adapters {
		if err := a.Stop(ctx); err != nil {
			r.logger.Warn("adapter failed to stop cleanly", zap.String("adapter", a.Name()), zap.Error(err))
		}
	}
}

// unconfiguredAdapter is the shared implementation behind every chat
// channel this runtime treats as an external collaborator: Start reports
// why it refused rather than silently doing nothing, Stop is always a
// no-op, and health is reported unhealthy for the channel's whole
// lifetime unless the adapter is actually wired to a real client.
type unconfiguredAdapter struct {
	name   string
	reason string
	health HealthReporter
}

func (a *unconfiguredAdapter) Name() string { return a.name }

func (a *unconfiguredAdapter) Start(ctx context.Context) error {
	if a.health != nil {
		a.health.SetChannelHealth(a.name, false)
	}
	return apperr.New(apperr.KindExternalFatal, a.reason)
}

func (a *unconfiguredAdapter) Stop(ctx context.Context) error { return nil }

// NewSlackAdapter returns the Slack channel's boundary point. Wiring a real
// Slack client (token exchange, Socket Mode or Events API, message
// formatting) is out of this runtime's scope; this satisfies Adapter so
// the CLI's --no-slack flag and the registry's uniform start/stop have
// something concrete to toggle.
func NewSlackAdapter(health HealthReporter) Adapter {
	return &unconfiguredAdapter{name: "slack", reason: "slack adapter has no client wired; treat as an external collaborator", health: health}
}

// NewTelegramAdapter is the Telegram analogue of NewSlackAdapter.
func NewTelegramAdapter(health HealthReporter) Adapter {
	return &unconfiguredAdapter{name: "telegram", reason: "telegram adapter has no client wired; treat as an external collaborator", health: health}
}
