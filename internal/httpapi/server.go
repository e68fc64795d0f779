// Package httpapi is the runtime's dashboard HTTP surface: a thin gin
// adapter over the orchestrator, memory store, and event bus. The rich
// dashboard HTML itself is an external collaborator this runtime does not
// render; this package serves the JSON API the dashboard (or any other
// client) drives, plus a minimal stub page at "/".
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// Orchestrator is the structural shape of orchestrator.Orchestrator this
// package depends on, redeclared here (with httpapi's own StateOptions and
// Incoming types) so httpapi never imports internal/orchestrator directly.
// The composition root in cmd adapts the real *orchestrator.Orchestrator to
// this interface — the same one-way dependency discipline internal/
// autonomous established for its own Handler interface. internal/session,
// internal/lane, and internal/tasks are all leaf packages with no
// orchestrator dependency, so returning their concrete types is safe here.
type Orchestrator interface {
	GetState(opts StateOptions) map[string]any
	ListConversationSessions() []*session.Session
	CreateConversationSession(source, channelID, userID, sessionID string) (*session.Session, error)
	ArchiveConversationSession(laneKey string) error
	HandleIncoming(ctx context.Context, in Incoming) string
	DebugLanes() []lane.Snapshot
	DebugTasks() []*tasks.Task
}

// StateOptions mirrors orchestrator.StateOptions.
type StateOptions struct {
	AutonomousLoop any
	IncludeEvents  bool
	EventLimit     int
}

// Incoming mirrors orchestrator.Incoming.
type Incoming struct {
	Source    string
	ChannelID string
	UserID    string
	SessionID string
	Text      string
}

// Config binds the dashboard server.
type Config struct {
	Host  string
	Port  int
	Mode  string // "debug" | "release"
	Token string // empty disables token gating for non-loopback requests
}

// Server is the dashboard's HTTP surface.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds a Server with every route registered.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "httpapi"))

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(tokenGate(cfg.Token))

	h := &handlers{deps: deps, logger: logger}
	registerRoutes(router, h)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start launches the listener in the background; it returns immediately.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting dashboard http server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dashboard http server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping dashboard http server")
	return s.server.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// tokenGate rejects non-loopback requests missing a matching token, when one
// is configured. Loopback requests are always allowed through.
func tokenGate(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || isLoopback(c.ClientIP()) {
			c.Next()
			return
		}
		got := c.GetHeader("x-nxclaw-token")
		if got == "" {
			got = c.Query("token")
		}
		if got != token {
			writeError(c, http.StatusUnauthorized, "missing or invalid dashboard token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}

// eventStreamPingInterval matches the wire format's documented keepalive
// cadence.
const eventStreamPingInterval = 15 * time.Second
