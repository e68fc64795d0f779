package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// CLIAdapter feeds stdin lines into Handler.HandleIncoming one at a time
// and writes replies to an output writer, the only channel this runtime
// implements end to end rather than leaving as an interface boundary.
type CLIAdapter struct {
	handler   Handler
	health    HealthReporter
	logger    *zap.Logger
	userID    string
	sessionID string
	in        io.Reader
	out       io.Writer
}

// CLIConfig names the user/session identifiers attached to every turn the
// CLI adapter sends, and the streams it reads from / writes to.
type CLIConfig struct {
	UserID    string
	SessionID string
	In        io.Reader
	Out       io.Writer
}

// NewCLIAdapter builds a CLIAdapter. health may be nil.
func NewCLIAdapter(handler Handler, health HealthReporter, cfg CLIConfig, logger *zap.Logger) *CLIAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserID == "" {
		cfg.UserID = "local"
	}
	return &CLIAdapter{
		handler:   handler,
		health:    health,
		logger:    logger.With(zap.String("component", "channels.cli")),
		userID:    cfg.UserID,
		sessionID: cfg.SessionID,
		in:        cfg.In,
		out:       cfg.Out,
	}
}

func (a *CLIAdapter) Name() string { return "cli" }

// Start marks the channel healthy; the CLI has no background listener of
// its own, so starting is a no-op beyond the health flip.
func (a *CLIAdapter) Start(ctx context.Context) error {
	if a.health != nil {
		a.health.SetChannelHealth(a.Name(), true)
	}
	return nil
}

func (a *CLIAdapter) Stop(ctx context.Context) error {
	if a.health != nil {
		a.health.SetChannelHealth(a.Name(), false)
	}
	return nil
}

// Once sends a single line through the handler and returns the reply,
// backing the `start --once <msg>` CLI flag.
func (a *CLIAdapter) Once(ctx context.Context, text string) string {
	return a.handler.HandleIncoming(ctx, Message{
		Source:    a.Name(),
		ChannelID: "cli",
		UserID:    a.userID,
		SessionID: a.sessionID,
		Text:      text,
	})
}

// Run reads lines from In until EOF or ctx is done, printing each reply to
// Out, backing an interactive CLI session.
func (a *CLIAdapter) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprintln(a.out, "nxclaw interactive session. Ctrl-D to exit.")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := a.Once(ctx, line)
		fmt.Fprintln(a.out, reply)
	}
	return scanner.Err()
}
