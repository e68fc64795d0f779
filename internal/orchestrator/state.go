package orchestrator

import (
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// channelHealthTracker records the last-reported health of each channel
// adapter (Slack, Telegram, dashboard) for the aggregate state snapshot.
type channelHealthTracker struct {
	mu      sync.Mutex
	healthy map[string]bool
}

func (c *channelHealthTracker) set(channel string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthy == nil {
		c.healthy = make(map[string]bool)
	}
	c.healthy[channel] = healthy
}

func (c *channelHealthTracker) snapshot() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.healthy))
	for k, v := range c.healthy {
		out[k] = v
	}
	return out
}

// StateOptions parameterizes GetState.
type StateOptions struct {
	AutonomousLoop any // opaque status blob supplied by the autonomous loop, if running
	IncludeEvents  bool
	EventLimit     int
}

// dashboardSnapshot is the JSON document persisted after every turn and
// served by the dashboard's aggregate state endpoint.
type dashboardSnapshot struct {
	At             time.Time        `json:"at"`
	QueueDepth     int              `json:"queueDepth"`
	SessionCount   int              `json:"sessionCount"`
	ObjectiveStats any              `json:"objectiveStats,omitempty"`
	TaskHealth     any              `json:"taskHealth,omitempty"`
	MemoryRawCount int              `json:"memoryRawCount"`
	ChannelHealth  map[string]bool  `json:"channelHealth"`
	Events         []eventbus.Event `json:"events,omitempty"`
}

func (o *Orchestrator) snapshot() dashboardSnapshot {
	snap := dashboardSnapshot{
		At:            time.Now(),
		ChannelHealth: o.channelHealth.snapshot(),
	}
	if o.Lane != nil {
		snap.QueueDepth = o.Lane.Depth()
	}
	if o.Sessions != nil {
		snap.SessionCount = len(o.Sessions.List())
	}
	if o.Objectives != nil {
		snap.ObjectiveStats = o.Objectives.Stats()
	}
	if o.Tasks != nil {
		snap.TaskHealth = o.Tasks.GetHealth()
	}
	if o.Memory != nil {
		snap.MemoryRawCount = o.Memory.RawCount()
	}
	return snap
}

// GetState aggregates the runtime's current status for the dashboard.
func (o *Orchestrator) GetState(opts StateOptions) map[string]any {
	snap := o.snapshot()
	state := map[string]any{
		"at":             snap.At,
		"queueDepth":     snap.QueueDepth,
		"sessionCount":   snap.SessionCount,
		"objectiveStats": snap.ObjectiveStats,
		"taskHealth":     snap.TaskHealth,
		"memoryRawCount": snap.MemoryRawCount,
		"channelHealth":  snap.ChannelHealth,
	}
	if opts.AutonomousLoop != nil {
		state["autonomousLoop"] = opts.AutonomousLoop
	}
	if opts.IncludeEvents && o.Bus != nil {
		limit := opts.EventLimit
		if limit <= 0 {
			limit = 50
		}
		state["events"] = o.Bus.Recent(limit)
	}
	return state
}

// ListConversationSessions returns every live lane session.
func (o *Orchestrator) ListConversationSessions() []*session.Session {
	if o.Sessions == nil {
		return nil
	}
	return o.Sessions.List()
}

// CreateConversationSession pre-creates a lane session for source/channel/
// user/session identifiers, returning the session registered under the
// derived laneKey (its LaneKey field).
func (o *Orchestrator) CreateConversationSession(source, channelID, userID, sessionID string) (*session.Session, error) {
	if o.Sessions == nil {
		return nil, apperr.New(apperr.KindInternal, "no session registry configured")
	}
	safe := sanitizeIncoming(Incoming{Source: source, ChannelID: channelID, UserID: userID, SessionID: sessionID})
	return o.Sessions.AcquireOrCreate(safe.laneKey(), safe.baseLaneKey(), safe.Source, safe.ChannelID, safe.SessionID), nil
}

// ArchiveConversationSession removes a lane session immediately, refusing a
// currently running one.
func (o *Orchestrator) ArchiveConversationSession(laneKey string) error {
	if o.Sessions == nil {
		return apperr.New(apperr.KindInternal, "no session registry configured")
	}
	return o.Sessions.Archive(laneKey)
}

// SetChannelHealth records the last-known health of a channel adapter.
func (o *Orchestrator) SetChannelHealth(channel string, healthy bool) {
	o.channelHealth.set(channel, healthy)
}

// DebugLanes returns a snapshot of every currently live lane, for the
// dashboard's debug surface.
func (o *Orchestrator) DebugLanes() []lane.Snapshot {
	if o.Lane == nil {
		return nil
	}
	return o.Lane.Snapshots()
}

// DebugTasks returns every task the manager currently knows about,
// including finished ones, for the dashboard's debug surface.
func (o *Orchestrator) DebugTasks() []*tasks.Task {
	if o.Tasks == nil {
		return nil
	}
	return o.Tasks.List(true)
}

// Shutdown stops the session sweep loop and flushes the dashboard snapshot
// one last time. It does not close Memory, Tasks, or Bus — those are owned
// by whoever constructed them and may be shared beyond the orchestrator's
// lifetime.
func (o *Orchestrator) Shutdown() {
	if o.Sessions != nil {
		o.Sessions.Stop()
	}
	o.persistDashboardSnapshot()
}
