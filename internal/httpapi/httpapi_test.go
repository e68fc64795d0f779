package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

type fakeOrchestrator struct {
	state        map[string]any
	sessions     []*session.Session
	lastIncoming Incoming
	reply        string
	archiveErr   error
	lanes        []lane.Snapshot
	tasks        []*tasks.Task
}

func (f *fakeOrchestrator) GetState(opts StateOptions) map[string]any { return f.state }

func (f *fakeOrchestrator) ListConversationSessions() []*session.Session { return f.sessions }

func (f *fakeOrchestrator) CreateConversationSession(source, channelID, userID, sessionID string) (*session.Session, error) {
	s := &session.Session{Source: source, ChannelID: channelID, SessionID: sessionID}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeOrchestrator) ArchiveConversationSession(laneKey string) error { return f.archiveErr }

func (f *fakeOrchestrator) HandleIncoming(ctx context.Context, in Incoming) string {
	f.lastIncoming = in
	if f.reply != "" {
		return f.reply
	}
	return "handled: " + in.Text
}

func (f *fakeOrchestrator) DebugLanes() []lane.Snapshot { return f.lanes }

func (f *fakeOrchestrator) DebugTasks() []*tasks.Task { return f.tasks }

func newTestServer(t *testing.T) (*httptest.Server, *fakeOrchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	bus, err := eventbus.New(eventbus.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("eventbus.New: %v", err)
	}
	store, err := memory.New(memory.Config{RootDir: filepath.Join(dir, "memory")}, bus, zap.NewNop())
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(store.Close)

	orch := &fakeOrchestrator{state: map[string]any{"queueDepth": 0}}

	router := gin.New()
	h := &handlers{deps: Deps{Orchestrator: orch, Memory: store, Bus: bus, Home: dir}, logger: zap.NewNop()}
	registerRoutes(router, h)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, orch
}

func TestIndexServesHTML(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetState(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["queueDepth"]; !ok {
		t.Fatalf("expected queueDepth in response, got %+v", body)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET /api/settings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var cfg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}

	body, _ := json.Marshal(cfg)
	postResp, err := http.Post(srv.URL+"/api/settings", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/settings: %v", err)
	}
	defer postResp.Body.Close()
	if postResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", postResp.StatusCode)
	}
}

func TestCreateAndArchiveSession(t *testing.T) {
	srv, orch := newTestServer(t)

	body, _ := json.Marshal(createSessionRequest{Source: "cli", UserID: "u1"})
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(orch.sessions) != 1 {
		t.Fatalf("expected 1 session created, got %d", len(orch.sessions))
	}

	archiveBody, _ := json.Marshal(archiveSessionRequest{LaneKey: "cli:u1"})
	archiveResp, err := http.Post(srv.URL+"/api/sessions/archive", "application/json", bytes.NewReader(archiveBody))
	if err != nil {
		t.Fatalf("POST /api/sessions/archive: %v", err)
	}
	defer archiveResp.Body.Close()
	if archiveResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", archiveResp.StatusCode)
	}
}

func TestPromptRoutesToOrchestrator(t *testing.T) {
	srv, orch := newTestServer(t)

	body, _ := json.Marshal(promptRequest{Text: "hello"})
	resp, err := http.Post(srv.URL+"/api/prompt", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/prompt: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["reply"] != "handled: hello" {
		t.Fatalf("unexpected reply: %+v", out)
	}
	if orch.lastIncoming.Source != "dashboard" {
		t.Fatalf("expected default source dashboard, got %q", orch.lastIncoming.Source)
	}
}

func TestPromptRequiresText(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/prompt", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST /api/prompt: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMemoryNoteAndStats(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(noteRequest{Content: "remember this", Source: "test"})
	resp, err := http.Post(srv.URL+"/api/memory/note", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/memory/note: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	statsResp, err := http.Get(srv.URL + "/api/memory/stats")
	if err != nil {
		t.Fatalf("GET /api/memory/stats: %v", err)
	}
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", statsResp.StatusCode)
	}
}

func TestMemorySoulRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	writeBody, _ := json.Marshal(writeSoulRequest{Text: "I am nxclaw", Replace: true})
	writeResp, err := http.Post(srv.URL+"/api/memory/soul", "application/json", bytes.NewReader(writeBody))
	if err != nil {
		t.Fatalf("POST /api/memory/soul: %v", err)
	}
	defer writeResp.Body.Close()
	if writeResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", writeResp.StatusCode)
	}

	readResp, err := http.Get(srv.URL + "/api/memory/soul")
	if err != nil {
		t.Fatalf("GET /api/memory/soul: %v", err)
	}
	defer readResp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(readResp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["soul"] != "I am nxclaw" {
		t.Fatalf("unexpected soul content: %+v", out)
	}
}

func TestEventsRecent(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/events/recent")
	if err != nil {
		t.Fatalf("GET /api/events/recent: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDebugLanesAndTasks(t *testing.T) {
	srv, orch := newTestServer(t)
	orch.lanes = []lane.Snapshot{{LaneKey: "cli:u1", LaneDepth: 2, Active: 1, TotalDepth: 2}}
	orch.tasks = []*tasks.Task{{ID: "t1", Name: "sweep", Status: tasks.StatusQueued}}

	lanesResp, err := http.Get(srv.URL + "/api/debug/lanes")
	if err != nil {
		t.Fatalf("GET /api/debug/lanes: %v", err)
	}
	defer lanesResp.Body.Close()
	if lanesResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", lanesResp.StatusCode)
	}
	var lanes []lane.Snapshot
	if err := json.NewDecoder(lanesResp.Body).Decode(&lanes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lanes) != 1 || lanes[0].LaneKey != "cli:u1" {
		t.Fatalf("unexpected lanes: %+v", lanes)
	}

	tasksResp, err := http.Get(srv.URL + "/api/debug/tasks")
	if err != nil {
		t.Fatalf("GET /api/debug/tasks: %v", err)
	}
	defer tasksResp.Body.Close()
	if tasksResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", tasksResp.StatusCode)
	}
	var gotTasks []*tasks.Task
	if err := json.NewDecoder(tasksResp.Body).Decode(&gotTasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(gotTasks) != 1 || gotTasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %+v", gotTasks)
	}
}

func TestTokenGateRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	bus, err := eventbus.New(eventbus.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("eventbus.New: %v", err)
	}
	store, err := memory.New(memory.Config{RootDir: filepath.Join(dir, "memory")}, bus, zap.NewNop())
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer store.Close()

	orch := &fakeOrchestrator{state: map[string]any{}}
	router := gin.New()
	router.Use(tokenGate("secret"))
	h := &handlers{deps: Deps{Orchestrator: orch, Memory: store, Bus: bus, Home: dir}, logger: zap.NewNop()}
	registerRoutes(router, h)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/state?token=secret", nil)
	req2.RemoteAddr = "203.0.113.10:1234"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with correct token", rec2.Code)
	}
}
