// Package orchestrator ties every other component into the runtime's single
// public entry point: turn an incoming message into a reply. It owns the
// prompt-composition, retry, and overflow-compaction policy that the
// completion layer (internal/llm) deliberately does not — internal/llm is a
// single-shot call, and every decision about what to do when that call
// fails or overflows belongs here.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/llm"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/skills"
	"github.com/nxclaw/nxclaw/internal/tasks"
	"github.com/nxclaw/nxclaw/internal/tool"
)

// AuthChecker reports whether a credential family is currently configured,
// gating every incoming turn behind it.
type AuthChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

// Incoming is one inbound turn from any channel adapter.
type Incoming struct {
	Source    string // "dashboard", "slack", "telegram", "cli", "autonomous"
	ChannelID string
	UserID    string
	SessionID string // optional; defaults to a per-user lane when empty
	Text      string
}

// Config bounds the orchestrator's retry, timeout, and queue policy.
type Config struct {
	PromptTimeoutMs               int
	MaxPromptRetries              int
	MaxQueueDepth                 int
	MaxOverflowCompactionAttempts int
	MemoryMatchLimit              int
	ImportancePattern             string
	StateDir                      string // directory holding dashboard.json
}

const (
	defaultPromptTimeoutMs   = 60_000
	defaultMaxPromptRetries  = 2
	defaultMaxQueueDepth     = 64
	defaultMaxOverflowCycles = 2
	defaultMemoryMatchLimit  = 5
	defaultImportancePattern = `(?i)\b(remember|important|never forget|always|promise|deadline)\b`
)

func (c *Config) applyDefaults() {
	if c.PromptTimeoutMs <= 0 {
		c.PromptTimeoutMs = defaultPromptTimeoutMs
	}
	if c.MaxPromptRetries <= 0 {
		c.MaxPromptRetries = defaultMaxPromptRetries
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxOverflowCompactionAttempts <= 0 {
		c.MaxOverflowCompactionAttempts = defaultMaxOverflowCycles
	}
	if c.MemoryMatchLimit <= 0 {
		c.MemoryMatchLimit = defaultMemoryMatchLimit
	}
	if c.ImportancePattern == "" {
		c.ImportancePattern = defaultImportancePattern
	}
}

// Deps wires every other runtime component the orchestrator coordinates.
// Auth, Tasks, Tools, and Skills may be nil — their absence degrades the
// prompt (no task snapshot, no tool list, no skill previews) or the auth
// gate (always authenticated) rather than failing.
type Deps struct {
	Lane       *lane.Queue
	Sessions   *session.Registry
	Memory     *memory.Store
	Objectives *objectives.Store
	Tasks      *tasks.Manager
	Tools      *tool.Executor
	Skills     *skills.Manager
	LLM        *llm.Session
	Bus        *eventbus.Bus
	Auth       AuthChecker
	Logger     *zap.Logger
}

// Orchestrator is the runtime's single message-processing pipeline.
type Orchestrator struct {
	cfg Config
	Deps

	importanceRe *regexp.Regexp
	logger       *zap.Logger

	channelHealth channelHealthTracker
}

// New builds an Orchestrator. deps.Logger may be nil.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:          cfg,
		Deps:         deps,
		importanceRe: regexp.MustCompile(cfg.ImportancePattern),
		logger:       logger.With(zap.String("component", "orchestrator")),
	}
}

const authRequiredMessage = "No LLM provider is authenticated yet. Run `auth` to connect a provider before sending messages."

// HandleIncoming runs the full pipeline described for the runtime's single
// public entry point and always returns a reply string — failures are
// encoded as a "Runtime error: ..." string rather than a Go error, since
// every caller (HTTP handler, channel adapter, autonomous loop) treats the
// return value as the text to display or relay.
func (o *Orchestrator) HandleIncoming(ctx context.Context, in Incoming) string {
	if o.Auth != nil && !o.Auth.IsAuthenticated(ctx) {
		return authRequiredMessage
	}

	safe := sanitizeIncoming(in)
	laneKey := safe.laneKey()

	if o.Lane != nil && o.Lane.Depth() >= o.cfg.MaxQueueDepth {
		return fmt.Sprintf("Runtime error: queue depth %d exceeds the configured limit", o.Lane.Depth())
	}

	runFn := func(ctx context.Context) (any, error) {
		return o.runTurn(ctx, safe, laneKey)
	}

	var (
		reply string
		err   error
	)
	if o.Lane != nil {
		var val any
		val, err = o.Lane.Enqueue(ctx, laneKey, runFn)
		if err == nil {
			reply, _ = val.(string)
		}
	} else {
		var val any
		val, err = runFn(ctx)
		if err == nil {
			reply, _ = val.(string)
		}
	}

	if err != nil {
		o.logger.Error("handleIncoming failed", zap.String("laneKey", laneKey), zap.Error(err))
		return fmt.Sprintf("Runtime error: %s", err.Error())
	}
	return reply
}

// runTurn executes step 4 of the pipeline under the lane's exclusive slot.
func (o *Orchestrator) runTurn(ctx context.Context, in safeIncoming, laneKey string) (string, error) {
	var sess *session.Session
	if o.Sessions != nil {
		sess = o.Sessions.AcquireOrCreate(laneKey, in.baseLaneKey(), in.Source, in.ChannelID, in.SessionID)
		o.Sessions.SetRunning(laneKey, true)
		defer o.Sessions.SetRunning(laneKey, false)
	}

	sessionKey := fsutil.SafeSessionKey(laneKey)

	if o.Memory != nil {
		if _, err := o.Memory.RecordRaw(memory.RawEntry{
			Actor:      memory.ActorUser,
			Content:    in.Text,
			Source:     in.Source,
			SessionKey: sessionKey,
		}); err != nil {
			o.logger.Warn("failed to record user turn", zap.Error(err))
		}
	}

	var matches []memory.SearchResult
	if o.Memory != nil {
		var err error
		matches, err = o.Memory.Search(ctx, in.Text, o.cfg.MemoryMatchLimit, memory.SearchOptions{
			SessionKey: sessionKey,
			Mode:       memory.ModeSessionStrict,
		})
		if err != nil {
			o.logger.Warn("memory search failed", zap.Error(err))
		}
	}

	reply, err := o.promptWithRetry(ctx, in, laneKey, sess, matches)
	if err != nil {
		return "", err
	}

	if o.Memory != nil {
		if _, err := o.Memory.RecordRaw(memory.RawEntry{
			Actor:      memory.ActorAssistant,
			Content:    reply,
			Source:     in.Source,
			SessionKey: sessionKey,
		}); err != nil {
			o.logger.Warn("failed to record assistant turn", zap.Error(err))
		}
		if o.importanceRe.MatchString(reply) {
			if err := o.Memory.WriteSoul(reply, false, true); err != nil {
				o.logger.Warn("failed to journal soul entry", zap.Error(err))
			}
		}
	}

	if o.Sessions != nil {
		o.Sessions.Touch(laneKey)
	}

	o.persistDashboardSnapshot()

	return reply, nil
}

// promptWithRetry calls the LLM session, retrying on overflow (by
// progressively trimming the composed prompt's context) and on any other
// error, up to the configured attempt caps.
func (o *Orchestrator) promptWithRetry(ctx context.Context, in safeIncoming, laneKey string, sess *session.Session, matches []memory.SearchResult) (string, error) {
	if o.LLM == nil {
		return "", apperr.New(apperr.KindInternal, "no LLM session configured")
	}

	trimLevel := 0
	overflowAttempts := 0
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxPromptRetries; attempt++ {
		prompt := o.composePrompt(in, laneKey, sess, matches, trimLevel)

		promptCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.PromptTimeoutMs)*time.Millisecond)
		if o.Bus != nil {
			o.Bus.Emit(eventbus.TypePromptStart, map[string]any{"laneKey": laneKey, "attempt": attempt})
		}
		reply, err := o.LLM.Prompt(promptCtx, prompt)
		cancel()

		if err == nil {
			if o.Bus != nil {
				o.Bus.Emit(eventbus.TypePromptEnd, map[string]any{"laneKey": laneKey, "attempt": attempt})
			}
			return reply, nil
		}

		lastErr = err
		if promptCtx.Err() != nil {
			if o.Bus != nil {
				o.Bus.Emit(eventbus.TypePromptTimeout, map[string]any{"laneKey": laneKey, "attempt": attempt})
			}
		}

		if llm.IsContextOverflowError(err) && overflowAttempts < o.cfg.MaxOverflowCompactionAttempts {
			overflowAttempts++
			trimLevel++
			if o.Bus != nil {
				o.Bus.Emit(eventbus.TypePromptOverflow, map[string]any{"laneKey": laneKey, "attempt": attempt, "trimLevel": trimLevel})
			}
			o.logger.Warn("prompt overflow, compacting and retrying", zap.String("laneKey", laneKey), zap.Int("trimLevel", trimLevel))
			attempt--
			continue
		}

		if attempt < o.cfg.MaxPromptRetries {
			if o.Bus != nil {
				o.Bus.Emit(eventbus.TypePromptRetry, map[string]any{"laneKey": laneKey, "attempt": attempt, "error": err.Error()})
			}
			o.logger.Warn("prompt call failed, retrying", zap.String("laneKey", laneKey), zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	return "", apperr.Wrap(apperr.KindContextOverflow, "prompt failed after retries", lastErr)
}

func (o *Orchestrator) persistDashboardSnapshot() {
	if o.cfg.StateDir == "" {
		return
	}
	snap := o.snapshot()
	path := o.cfg.StateDir + "/dashboard.json"
	if err := fsutil.WriteJSONAtomic(path, snap); err != nil {
		o.logger.Warn("failed to persist dashboard snapshot", zap.Error(err))
	}
}

// safeIncoming is a sanitized Incoming with a stable lane-key derivation.
type safeIncoming struct {
	Source    string
	ChannelID string
	UserID    string
	SessionID string
	Text      string
}

func sanitizeIncoming(in Incoming) safeIncoming {
	return safeIncoming{
		Source:    fsutil.SafeSessionKey(nonEmpty(in.Source, "unknown")),
		ChannelID: fsutil.SafeSessionKey(nonEmpty(in.ChannelID, "default")),
		UserID:    fsutil.SafeSessionKey(nonEmpty(in.UserID, "default")),
		SessionID: fsutil.SafeSessionKey(in.SessionID),
		Text:      strings.TrimSpace(in.Text),
	}
}

func (s safeIncoming) baseLaneKey() string {
	return fmt.Sprintf("%s:%s:%s", s.Source, s.ChannelID, s.UserID)
}

func (s safeIncoming) laneKey() string {
	if s.SessionID == "" {
		return s.baseLaneKey()
	}
	return s.baseLaneKey() + ":" + s.SessionID
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
