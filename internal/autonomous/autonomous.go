// Package autonomous drives the runtime orchestrator on a timer instead of
// an inbound channel message, so the agent keeps making progress on its
// objective queue between conversations. It reuses the exact same
// Orchestrator.HandleIncoming entry point every channel adapter uses, just
// with source "autonomous" and a synthesized prompt.
package autonomous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// Handler is the subset of Orchestrator the loop drives. Defined as an
// interface so tests can substitute a fake without constructing a full
// orchestrator.
type Handler interface {
	HandleIncoming(ctx context.Context, in HandlerIncoming) string
}

// HandlerIncoming mirrors orchestrator.Incoming's fields without importing
// the orchestrator package, avoiding an import cycle (orchestrator does not
// depend on autonomous, but keeping the dependency one-directional here
// keeps the wiring obvious: cmd constructs both and passes the orchestrator
// in as a Handler).
type HandlerIncoming struct {
	Source    string
	ChannelID string
	UserID    string
	SessionID string
	Text      string
}

// Config controls the loop's cadence and backpressure thresholds.
type Config struct {
	Enabled             bool
	IntervalMs          int
	Goal                string // fallback maintenance goal used when no objective is pending
	SkipWhenQueueAbove  int
	MaxConcurrentTasks  int // used to derive the task-health backpressure thresholds
	MaxConsecutiveFails int
	PendingMaxAge       time.Duration
	InProgressMaxIdle   time.Duration
}

const (
	minIntervalMs              = 5_000
	defaultIntervalMs          = 60_000
	defaultSkipWhenQueueAbove  = 8
	defaultMaxConcurrentTasks  = 2
	defaultMaxConsecutiveFails = 5
	defaultPendingMaxAge       = 72 * time.Hour
	defaultInProgressMaxIdle   = 6 * time.Hour
)

func (c *Config) applyDefaults() {
	if c.IntervalMs < minIntervalMs {
		c.IntervalMs = defaultIntervalMs
	}
	if c.SkipWhenQueueAbove <= 0 {
		c.SkipWhenQueueAbove = defaultSkipWhenQueueAbove
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = defaultMaxConcurrentTasks
	}
	if c.MaxConsecutiveFails <= 0 {
		c.MaxConsecutiveFails = defaultMaxConsecutiveFails
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = defaultPendingMaxAge
	}
	if c.InProgressMaxIdle <= 0 {
		c.InProgressMaxIdle = defaultInProgressMaxIdle
	}
}

// Deps wires the components a tick needs to decide whether to run and what
// to run.
type Deps struct {
	Handler    Handler
	Objectives *objectives.Store
	Tasks      *tasks.Manager
	Lane       *lane.Queue
	Bus        *eventbus.Bus
	Logger     *zap.Logger
}

// Loop is the autonomous ticker. Zero value is not usable; build with New.
type Loop struct {
	cfg Config
	Deps

	logger *zap.Logger

	mu               sync.Mutex
	running          bool
	ticking          bool
	consecutiveFails int
	disabledReason   string
	lastTickAt       time.Time
	lastResult       string

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Loop. deps.Logger may be nil.
func New(cfg Config, deps Deps) *Loop {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:    cfg,
		Deps:   deps,
		logger: logger.With(zap.String("component", "autonomous")),
	}
}

// Start launches the ticker goroutine. A no-op if the loop is disabled or
// already running.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running || !l.cfg.Enabled {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Unlock()

	safego.Go(l.logger, "autonomous-loop", func() {
		defer close(l.done)
		ticker := time.NewTicker(time.Duration(l.cfg.IntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				l.tick(runCtx)
			}
		}
	})
}

// Stop cancels the ticker and waits for the in-flight tick, if any, to
// return.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status reports the loop's current state for the dashboard.
type Status struct {
	Enabled          bool      `json:"enabled"`
	Running          bool      `json:"running"`
	Ticking          bool      `json:"ticking"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	DisabledReason   string    `json:"disabledReason,omitempty"`
	LastTickAt       time.Time `json:"lastTickAt,omitempty"`
	LastResult       string    `json:"lastResult,omitempty"`
	IntervalMs       int       `json:"intervalMs"`
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Enabled:          l.cfg.Enabled,
		Running:          l.running,
		Ticking:          l.ticking,
		ConsecutiveFails: l.consecutiveFails,
		DisabledReason:   l.disabledReason,
		LastTickAt:       l.lastTickAt,
		LastResult:       l.lastResult,
		IntervalMs:       l.cfg.IntervalMs,
	}
}

// Reconfigure applies a new config and clears any failure-latch, so a user
// editing autonomous settings after a disablement re-arms the loop.
func (l *Loop) Reconfigure(cfg Config) {
	cfg.applyDefaults()
	l.mu.Lock()
	l.cfg = cfg
	l.consecutiveFails = 0
	l.disabledReason = ""
	l.mu.Unlock()
}

func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	if l.ticking {
		l.mu.Unlock()
		l.skip("tick already running")
		return
	}
	if l.disabledReason != "" {
		l.mu.Unlock()
		l.skip("disabled: " + l.disabledReason)
		return
	}
	l.ticking = true
	l.lastTickAt = time.Now()
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.ticking = false
		l.mu.Unlock()
	}()

	if l.Lane != nil && l.Lane.Depth() > l.cfg.SkipWhenQueueAbove {
		l.skip(fmt.Sprintf("queue depth %d exceeds %d", l.Lane.Depth(), l.cfg.SkipWhenQueueAbove))
		return
	}

	if l.Tasks != nil {
		health := l.Tasks.GetHealth()
		queueCeiling := 3 * l.cfg.MaxConcurrentTasks
		failCeiling := l.cfg.MaxConcurrentTasks
		if failCeiling < 6 {
			failCeiling = 6
		}
		if health.QueueDepth > queueCeiling || health.FailedRecent > failCeiling {
			l.skip(fmt.Sprintf("task health degraded: queueDepth=%d failedRecent=%d", health.QueueDepth, health.FailedRecent))
			return
		}
	}

	in, err := l.buildPrompt()
	if err != nil {
		l.recordFailure(err.Error())
		return
	}

	l.emit(eventbus.TypeAutonomousTick, map[string]any{"text": in.Text})

	reply := l.Handler.HandleIncoming(ctx, in)
	if isRuntimeError(reply) {
		l.recordFailure(reply)
		return
	}
	l.recordSuccess(reply)
}

func (l *Loop) buildPrompt() (HandlerIncoming, error) {
	var objID string
	var text string

	if l.Objectives != nil {
		if _, err := l.Objectives.ExpireStale(objectives.ExpireConfig{
			PendingMaxAge:     l.cfg.PendingMaxAge,
			InProgressMaxIdle: l.cfg.InProgressMaxIdle,
		}); err != nil {
			l.logger.Warn("expire stale objectives failed", zap.Error(err))
		}

		if obj := l.Objectives.PickForAutonomous(); obj != nil {
			if _, err := l.Objectives.MarkPicked(obj.ID); err != nil {
				l.logger.Warn("mark objective picked failed", zap.Error(err), zap.String("objectiveId", obj.ID))
			}
			objID = obj.ID
			text = fmt.Sprintf("Autonomous objective [%s] (priority %d): %s\n\n%s", obj.ID, obj.Priority, obj.Title, obj.Description)
		}
	}

	if text == "" {
		goal := l.cfg.Goal
		if goal == "" {
			goal = "Review recent memory and background tasks, then decide if anything needs attention."
		}
		text = "Autonomous maintenance pass. " + goal
	}

	return HandlerIncoming{
		Source:    "autonomous",
		ChannelID: "autonomous",
		UserID:    "autonomous",
		SessionID: objID,
		Text:      text,
	}, nil
}

func (l *Loop) skip(reason string) {
	l.mu.Lock()
	l.lastResult = "skipped: " + reason
	l.mu.Unlock()
	l.emit(eventbus.TypeAutonomousSkip, map[string]any{"reason": reason})
}

func (l *Loop) recordSuccess(reply string) {
	l.mu.Lock()
	l.consecutiveFails = 0
	l.lastResult = reply
	l.mu.Unlock()
}

func (l *Loop) recordFailure(detail string) {
	l.mu.Lock()
	l.consecutiveFails++
	l.lastResult = "failed: " + detail
	fails := l.consecutiveFails
	if fails >= l.cfg.MaxConsecutiveFails && l.disabledReason == "" {
		l.disabledReason = fmt.Sprintf("stopped after %d consecutive failures: %s", fails, detail)
	}
	l.mu.Unlock()
	l.emit(eventbus.TypeAutonomousFailed, map[string]any{"detail": detail, "consecutiveFails": fails})
}

func (l *Loop) emit(eventType string, payload any) {
	if l.Bus != nil {
		l.Bus.Emit(eventType, payload)
	}
}

func isRuntimeError(reply string) bool {
	const prefix = "Runtime error:"
	return len(reply) >= len(prefix) && reply[:len(prefix)] == prefix
}
