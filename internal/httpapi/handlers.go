package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
)

// Deps wires every collaborator the dashboard API reads from or writes to.
// Memory, the event bus, and config are leaf packages the orchestrator
// itself depends on, so handlers import them directly rather than
// redeclaring yet another narrow interface.
type Deps struct {
	Orchestrator Orchestrator
	Memory       *memory.Store
	Bus          *eventbus.Bus
	Home         string // config.Load/Save root, "" uses config.DefaultHome()
}

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"ok": false, "error": message})
}

// writeAppErr classifies err via apperr.HTTPStatus when it carries a Kind,
// otherwise falls back to 500.
func writeAppErr(c *gin.Context, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		writeError(c, apperr.HTTPStatus(ae.Kind), ae.Error())
		return
	}
	writeError(c, http.StatusInternalServerError, err.Error())
}

func writeOK(c *gin.Context, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["ok"] = true
	c.JSON(http.StatusOK, payload)
}

func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/", h.index)

	api := router.Group("/api")
	{
		api.GET("/state", h.getState)
		api.GET("/settings", h.getSettings)
		api.POST("/settings", h.postSettings)

		api.GET("/sessions", h.listSessions)
		api.POST("/sessions", h.createSession)
		api.POST("/sessions/archive", h.archiveSession)

		mem := api.Group("/memory")
		{
			mem.GET("/stats", h.memoryStats)
			mem.GET("/recent", h.memoryRecent)
			mem.GET("/search", h.memorySearch)
			mem.POST("/note", h.memoryNote)
			mem.POST("/compact", h.memoryCompact)
			mem.POST("/sync", h.memorySync)
			mem.GET("/soul", h.memorySoul)
			mem.POST("/soul", h.memoryWriteSoul)
		}

		ev := api.Group("/events")
		{
			ev.GET("/recent", h.eventsRecent)
			ev.GET("/stream", h.eventsStream)
		}

		api.POST("/prompt", h.postPrompt)

		debug := api.Group("/debug")
		{
			debug.GET("/lanes", h.debugLanes)
			debug.GET("/tasks", h.debugTasks)
		}
	}
}

func (h *handlers) index(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, indexPage)
}

const indexPage = `<!doctype html>
<html>
<head><title>nxclaw</title></head>
<body>
<h1>nxclaw dashboard</h1>
<p>This is a minimal stub. Drive the JSON API under /api/ directly, or
point a separate dashboard UI at it.</p>
</body>
</html>
`

func (h *handlers) getState(c *gin.Context) {
	includeEvents := c.Query("events") == "1" || c.Query("events") == "true"
	limit := queryInt(c, "limit", 50)
	state := h.deps.Orchestrator.GetState(StateOptions{
		IncludeEvents: includeEvents,
		EventLimit:    limit,
	})
	c.JSON(http.StatusOK, state)
}

func (h *handlers) getSettings(c *gin.Context) {
	cfg, err := config.Load(h.deps.Home)
	if err != nil {
		writeAppErr(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *handlers) postSettings(c *gin.Context) {
	var cfg config.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.Save(h.deps.Home, &cfg); err != nil {
		writeAppErr(c, err)
		return
	}
	writeOK(c, gin.H{"settings": cfg})
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Orchestrator.ListConversationSessions())
}

type createSessionRequest struct {
	Source    string `json:"source" binding:"required"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func (h *handlers) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := h.deps.Orchestrator.CreateConversationSession(req.Source, req.ChannelID, req.UserID, req.SessionID)
	if err != nil {
		writeAppErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type archiveSessionRequest struct {
	LaneKey string `json:"laneKey" binding:"required"`
}

func (h *handlers) archiveSession(c *gin.Context) {
	var req archiveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Orchestrator.ArchiveConversationSession(req.LaneKey); err != nil {
		writeAppErr(c, err)
		return
	}
	writeOK(c, nil)
}

func (h *handlers) memoryStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Memory.Stats())
}

func (h *handlers) memoryRecent(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	sessionKey := c.Query("sessionKey")
	c.JSON(http.StatusOK, h.deps.Memory.RecentRaw(sessionKey, limit))
}

func (h *handlers) memorySearch(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		writeError(c, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryInt(c, "limit", 10)
	mode := memory.ModeGlobal
	if c.Query("mode") == string(memory.ModeSessionStrict) {
		mode = memory.ModeSessionStrict
	}
	results, err := h.deps.Memory.Search(c.Request.Context(), q, limit, memory.SearchOptions{
		SessionKey: c.Query("sessionKey"),
		Mode:       mode,
	})
	if err != nil {
		writeAppErr(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

type noteRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content" binding:"required"`
	Source  string   `json:"source"`
	Tags    []string `json:"tags,omitempty"`
}

func (h *handlers) memoryNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	note, err := h.deps.Memory.RecordNote(memory.Note{
		Title:   req.Title,
		Content: req.Content,
		Source:  req.Source,
		Tags:    req.Tags,
	})
	if err != nil {
		writeAppErr(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *handlers) memoryCompact(c *gin.Context) {
	note, err := h.deps.Memory.Compact(memory.CompactReasonExplicit)
	if err != nil {
		writeAppErr(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *handlers) memorySync(c *gin.Context) {
	if err := h.deps.Memory.Reindex(c.Request.Context()); err != nil {
		writeAppErr(c, err)
		return
	}
	writeOK(c, nil)
}

func (h *handlers) memorySoul(c *gin.Context) {
	soul, err := h.deps.Memory.Soul()
	if err != nil {
		writeAppErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"soul": soul})
}

type writeSoulRequest struct {
	Text    string `json:"text" binding:"required"`
	Replace bool   `json:"replace"`
	Journal bool   `json:"journal"`
}

func (h *handlers) memoryWriteSoul(c *gin.Context) {
	var req writeSoulRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Memory.WriteSoul(req.Text, req.Replace, req.Journal); err != nil {
		writeAppErr(c, err)
		return
	}
	writeOK(c, nil)
}

func (h *handlers) eventsRecent(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	c.JSON(http.StatusOK, h.deps.Bus.Recent(limit))
}

type promptRequest struct {
	Source    string `json:"source"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text" binding:"required"`
}

func (h *handlers) postPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = "dashboard"
	}
	reply := h.deps.Orchestrator.HandleIncoming(c.Request.Context(), Incoming{
		Source:    req.Source,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Text:      req.Text,
	})
	writeOK(c, gin.H{"reply": reply})
}

// debugLanes reports the scheduler's currently live lanes: what's running,
// what's queued behind it, and the global depth each is counted against.
func (h *handlers) debugLanes(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Orchestrator.DebugLanes())
}

// debugTasks reports every task the scheduled-task manager knows about,
// including finished ones, for inspecting cron/one-shot task state.
func (h *handlers) debugTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Orchestrator.DebugTasks())
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
