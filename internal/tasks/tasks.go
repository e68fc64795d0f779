// Package tasks is the background task manager: it supervises shell child
// processes on behalf of the runtime, queueing and retrying failed
// commands and reinstalling repeating schedules across restarts.
package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// Type distinguishes a one-shot command task from a repeating schedule.
type Type string

const (
	TypeCommand  Type = "command"
	TypeSchedule Type = "schedule"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusStopped   Status = "stopped"
)

func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusStopped:
		return true
	default:
		return false
	}
}

// Task is one supervised unit of work, command or schedule.
type Task struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	Command      string    `json:"command"`
	WorkDir      string    `json:"workDir"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastRunAt    time.Time `json:"lastRunAt,omitempty"`
	NextRunAt    time.Time `json:"nextRunAt,omitempty"`
	IntervalMs   int       `json:"intervalMs,omitempty"`
	ParentTaskID string    `json:"parentTaskId,omitempty"`
	ExitCode     int       `json:"exitCode"`
	PID          int       `json:"pid,omitempty"`
	Error        string    `json:"error,omitempty"`
	LogPath      string    `json:"logPath,omitempty"`
	Tail         []string  `json:"tail,omitempty"`
	Attempts     int       `json:"attempts"`
	MaxRetries   int       `json:"maxRetries"`
	RetryDelayMs int       `json:"retryDelayMs"`
	TimeoutMs    int       `json:"timeoutMs"`
	Background   bool      `json:"background"`
}

const (
	maxTailLines    = 120
	defaultRetryMs  = 5000
	minRetryDelayMs = 250
	maxRetryDelayMs = 3_600_000
)

// RunInput carries the parameters for runCommand / enqueueCommand.
type RunInput struct {
	Name          string
	Command       string
	WorkDir       string
	TimeoutMs     int
	MaxRetries    int
	RetryDelayMs  int
	Background    bool
	ForceQueue    bool
	DedupeRunning bool
}

// ScheduleInput carries the parameters for scheduleCommand.
type ScheduleInput struct {
	Name       string
	Command    string
	WorkDir    string
	IntervalMs int
	TimeoutMs  int
}

// Health summarizes the manager's current load, for the autonomous loop's
// backpressure check and the dashboard.
type Health struct {
	QueueDepth     int `json:"queueDepth"`
	RunningCount   int `json:"runningCount"`
	FailedRecent   int `json:"failedRecent"`
	ScheduleCount  int `json:"scheduleCount"`
	MaxConcurrency int `json:"maxConcurrency"`
}

// QueueSnapshot previews the pending queue for dashboard display.
type QueueSnapshot struct {
	Depth   int     `json:"depth"`
	Preview []*Task `json:"preview"`
}

// Config bounds the manager's concurrency, persistence, and retention.
type Config struct {
	MaxConcurrentProcesses int
	MaxFinishedTasks       int
	StateDir               string // holds tasks.json
	LogDir                 string // holds <taskID>.log
	PersistDebounce        time.Duration
}

type queueItem struct {
	taskID  string
	retryAt time.Time
}

// Manager supervises background processes.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	bus    *eventbus.Bus
	logger *zap.Logger

	tasks map[string]*Task
	queue []*queueItem

	running map[string]*runningProc
	waiters map[string][]chan *Task

	scheduleTimers map[string]*time.Timer

	persistTimer *time.Timer
	dispatching  bool
	wakeTimer    *time.Timer

	seq            int64
	recentFailures []time.Time
}

type fileFormat struct {
	Tasks []*Task `json:"tasks"`
}

// New constructs a Manager. bus and logger may be nil.
func New(cfg Config, bus *eventbus.Bus, logger *zap.Logger) (*Manager, error) {
	if cfg.MaxConcurrentProcesses <= 0 {
		cfg.MaxConcurrentProcesses = 4
	}
	if cfg.MaxFinishedTasks <= 0 {
		cfg.MaxFinishedTasks = 200
	}
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = 300 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fsutil.EnsureDir(cfg.StateDir); err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(cfg.LogDir); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:            cfg,
		bus:            bus,
		logger:         logger.With(zap.String("component", "tasks")),
		tasks:          make(map[string]*Task),
		running:        make(map[string]*runningProc),
		waiters:        make(map[string][]chan *Task),
		scheduleTimers: make(map[string]*time.Timer),
	}

	if err := m.loadAndReconcile(); err != nil {
		return nil, err
	}
	safego.Go(m.logger, "tasks.dispatch", m.dispatch)
	return m, nil
}

func (m *Manager) statePath() string {
	return m.cfg.StateDir + "/tasks.json"
}

func (m *Manager) logPath(id string) string {
	return m.cfg.LogDir + "/" + id + ".log"
}

func (m *Manager) nextID() string {
	m.seq++
	return fmt.Sprintf("task_%d_%d", time.Now().UnixNano(), m.seq)
}

// RunCommand creates and launches (or queues) a command task. When
// in.Background is false it blocks until the task reaches a terminal
// status and returns the final Task.
func (m *Manager) RunCommand(in RunInput) (*Task, error) {
	if in.Command == "" {
		return nil, apperr.New(apperr.KindValidation, "command must not be empty")
	}
	in = normalizeRunInput(in)

	m.mu.Lock()
	if in.DedupeRunning {
		for _, t := range m.tasks {
			if t.Type == TypeCommand && t.Command == in.Command && t.Status == StatusRunning {
				cp := *t
				m.mu.Unlock()
				return &cp, nil
			}
		}
	}

	now := time.Now()
	id := m.nextID()
	task := &Task{
		ID:           id,
		Name:         in.Name,
		Type:         TypeCommand,
		Command:      in.Command,
		WorkDir:      in.WorkDir,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		MaxRetries:   in.MaxRetries,
		RetryDelayMs: in.RetryDelayMs,
		TimeoutMs:    in.TimeoutMs,
		Background:   in.Background,
		LogPath:      m.logPath(id),
	}
	m.tasks[task.ID] = task
	m.queue = append(m.queue, &queueItem{taskID: task.ID, retryAt: now})
	m.schedulePersistLocked()
	m.mu.Unlock()

	m.emit(eventbus.TypeTaskQueued, task)
	safego.Go(m.logger, "tasks.dispatch", m.dispatch)

	if in.Background {
		cp := *task
		return &cp, nil
	}
	return m.await(task.ID), nil
}

// EnqueueCommand behaves like RunCommand but always runs in the background
// and always queues rather than launching immediately inline.
func (m *Manager) EnqueueCommand(in RunInput) (*Task, error) {
	in.Background = true
	in.ForceQueue = true
	return m.RunCommand(in)
}

// ScheduleCommand installs a repeating schedule that launches a child
// command task every IntervalMs.
func (m *Manager) ScheduleCommand(in ScheduleInput) (*Task, error) {
	if in.IntervalMs < 1000 {
		return nil, apperr.New(apperr.KindValidation, "schedule interval must be at least 1000ms")
	}

	m.mu.Lock()
	now := time.Now()
	task := &Task{
		ID:         m.nextID(),
		Name:       in.Name,
		Type:       TypeSchedule,
		Command:    in.Command,
		WorkDir:    in.WorkDir,
		Status:     StatusRunning, // sentinel: schedules are always "running"
		CreatedAt:  now,
		UpdatedAt:  now,
		IntervalMs: in.IntervalMs,
		TimeoutMs:  in.TimeoutMs,
		NextRunAt:  now.Add(time.Duration(in.IntervalMs) * time.Millisecond),
	}
	m.tasks[task.ID] = task
	m.schedulePersistLocked()
	m.installScheduleTimerLocked(task)
	m.mu.Unlock()

	m.emit(eventbus.TypeTaskQueued, task)
	return task, nil
}

// Stop cancels taskID: clears any schedule timer, removes it from the
// pending queue, and sends a terminate signal if it is currently running.
// Returns false if the task does not exist.
func (m *Manager) Stop(taskID string) bool {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	if timer, ok := m.scheduleTimers[taskID]; ok {
		timer.Stop()
		delete(m.scheduleTimers, taskID)
	}

	filtered := m.queue[:0]
	for _, qi := range m.queue {
		if qi.taskID != taskID {
			filtered = append(filtered, qi)
		}
	}
	m.queue = filtered

	proc := m.running[taskID]
	task.Status = StatusCancelled
	task.UpdatedAt = time.Now()
	m.schedulePersistLocked()
	m.mu.Unlock()

	if proc != nil {
		proc.terminate()
	}

	m.emit(eventbus.TypeTaskStopped, task)
	return true
}

// Tail returns up to lines of the task's recent output, reading the log
// file when the task is no longer held in memory with a fresh buffer.
func (m *Manager) Tail(taskID string, lines int) ([]string, error) {
	if lines <= 0 || lines > 500 {
		lines = maxTailLines
	}
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	var tailCopy []string
	var logPath string
	if ok {
		tailCopy = append([]string(nil), task.Tail...)
		logPath = task.LogPath
	}
	m.mu.Unlock()

	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "task not found: "+taskID)
	}
	if len(tailCopy) > 0 {
		if len(tailCopy) > lines {
			tailCopy = tailCopy[len(tailCopy)-lines:]
		}
		return tailCopy, nil
	}
	return fsutil.TailLines(logPath, lines)
}

// List returns a snapshot sorted by updatedAt desc, optionally including
// finished (terminal) tasks.
func (m *Manager) List(includeFinished bool) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if !includeFinished && t.Status.terminal() {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// GetHealth summarizes current load.
func (m *Manager) GetHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		QueueDepth:     len(m.queue),
		RunningCount:   len(m.running),
		MaxConcurrency: m.cfg.MaxConcurrentProcesses,
	}
	cutoff := time.Now().Add(-10 * time.Minute)
	failed := 0
	for _, ts := range m.recentFailures {
		if ts.After(cutoff) {
			failed++
		}
	}
	h.FailedRecent = failed
	for _, t := range m.tasks {
		if t.Type == TypeSchedule && t.Status != StatusCancelled {
			h.ScheduleCount++
		}
	}
	return h
}

// GetQueueSnapshot previews up to limit queued tasks.
func (m *Manager) GetQueueSnapshot(limit int) QueueSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := QueueSnapshot{Depth: len(m.queue)}
	if limit <= 0 {
		limit = 20
	}
	for i, qi := range m.queue {
		if i >= limit {
			break
		}
		if t, ok := m.tasks[qi.taskID]; ok {
			cp := *t
			snap.Preview = append(snap.Preview, &cp)
		}
	}
	return snap
}

func normalizeRunInput(in RunInput) RunInput {
	if in.MaxRetries < 0 {
		in.MaxRetries = 0
	}
	if in.MaxRetries > 20 {
		in.MaxRetries = 20
	}
	if in.RetryDelayMs == 0 {
		in.RetryDelayMs = defaultRetryMs
	}
	if in.RetryDelayMs < minRetryDelayMs {
		in.RetryDelayMs = minRetryDelayMs
	}
	if in.RetryDelayMs > maxRetryDelayMs {
		in.RetryDelayMs = maxRetryDelayMs
	}
	if in.ForceQueue {
		in.Background = true
	}
	return in
}

func (m *Manager) await(taskID string) *Task {
	ch := make(chan *Task, 1)
	m.mu.Lock()
	if t, ok := m.tasks[taskID]; ok && t.Status.terminal() {
		cp := *t
		m.mu.Unlock()
		return &cp
	}
	m.waiters[taskID] = append(m.waiters[taskID], ch)
	m.mu.Unlock()
	return <-ch
}

func (m *Manager) resolveWaitersLocked(task *Task) {
	chans := m.waiters[task.ID]
	delete(m.waiters, task.ID)
	cp := *task
	for _, ch := range chans {
		ch <- &cp
	}
}

func (m *Manager) emit(eventType string, task *Task) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(eventType, task)
}

func (m *Manager) schedulePersistLocked() {
	if m.persistTimer != nil {
		return
	}
	m.persistTimer = time.AfterFunc(m.cfg.PersistDebounce, m.persist)
}

func (m *Manager) persist() {
	m.mu.Lock()
	m.persistTimer = nil
	all := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		all = append(all, &cp)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if err := fsutil.WriteJSONAtomic(m.statePath(), fileFormat{Tasks: all}); err != nil {
		m.logger.Error("failed to persist task state", zap.Error(err))
	}
}

// pruneLocked drops the oldest terminal tasks beyond MaxFinishedTasks.
// Schedules and non-terminal tasks are never pruned. Must hold m.mu.
func (m *Manager) pruneLocked() {
	var finished []*Task
	for _, t := range m.tasks {
		if t.Type == TypeCommand && t.Status.terminal() {
			finished = append(finished, t)
		}
	}
	if len(finished) <= m.cfg.MaxFinishedTasks {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].UpdatedAt.After(finished[j].UpdatedAt) })
	for _, t := range finished[m.cfg.MaxFinishedTasks:] {
		delete(m.tasks, t.ID)
	}
}
