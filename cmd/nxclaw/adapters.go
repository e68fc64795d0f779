package main

import (
	"context"

	"github.com/nxclaw/nxclaw/internal/autonomous"
	"github.com/nxclaw/nxclaw/internal/channels"
	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/httpapi"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/orchestrator"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// orchestratorAdapter narrows *orchestrator.Orchestrator to the interfaces
// channels, autonomous, and httpapi each declare independently, so none of
// those leaf-adjacent packages needs to import internal/orchestrator
// directly. This is the one place in the tree that imports all of them.
type orchestratorAdapter struct {
	orch *orchestrator.Orchestrator
}

func (a orchestratorAdapter) HandleIncomingChannel(ctx context.Context, msg channels.Message) string {
	return a.orch.HandleIncoming(ctx, orchestrator.Incoming{
		Source:    msg.Source,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		SessionID: msg.SessionID,
		Text:      msg.Text,
	})
}

func (a orchestratorAdapter) HandleIncoming(ctx context.Context, in autonomous.HandlerIncoming) string {
	return a.orch.HandleIncoming(ctx, orchestrator.Incoming{
		Source:    in.Source,
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Text:      in.Text,
	})
}

func (a orchestratorAdapter) SetChannelHealth(channel string, healthy bool) {
	a.orch.SetChannelHealth(channel, healthy)
}

// channelsHandler exposes the channels.Handler view of the adapter. Go's
// structural typing can't overload HandleIncoming with two different
// parameter types on the same receiver, so each view gets its own small
// wrapper type instead.
type channelsHandler struct{ a orchestratorAdapter }

func (c channelsHandler) HandleIncoming(ctx context.Context, msg channels.Message) string {
	return c.a.HandleIncomingChannel(ctx, msg)
}

type httpapiOrchestrator struct{ a orchestratorAdapter }

func (h httpapiOrchestrator) GetState(opts httpapi.StateOptions) map[string]any {
	return h.a.orch.GetState(orchestrator.StateOptions{
		AutonomousLoop: opts.AutonomousLoop,
		IncludeEvents:  opts.IncludeEvents,
		EventLimit:     opts.EventLimit,
	})
}

func (h httpapiOrchestrator) ListConversationSessions() []*session.Session {
	return h.a.orch.ListConversationSessions()
}

func (h httpapiOrchestrator) CreateConversationSession(source, channelID, userID, sessionID string) (*session.Session, error) {
	return h.a.orch.CreateConversationSession(source, channelID, userID, sessionID)
}

func (h httpapiOrchestrator) ArchiveConversationSession(laneKey string) error {
	return h.a.orch.ArchiveConversationSession(laneKey)
}

func (h httpapiOrchestrator) HandleIncoming(ctx context.Context, in httpapi.Incoming) string {
	return h.a.orch.HandleIncoming(ctx, orchestrator.Incoming{
		Source:    in.Source,
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Text:      in.Text,
	})
}

func (h httpapiOrchestrator) DebugLanes() []lane.Snapshot {
	return h.a.orch.DebugLanes()
}

func (h httpapiOrchestrator) DebugTasks() []*tasks.Task {
	return h.a.orch.DebugTasks()
}

// authChecker adapts config's on-disk auth file to orchestrator.AuthChecker.
type authChecker struct{ home string }

func (a authChecker) IsAuthenticated(ctx context.Context) bool {
	return config.IsAuthenticated(a.home)
}
