package tasks

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// runningProc tracks one live child process and its cancellation handle.
type runningProc struct {
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	mu         sync.Mutex
	terminated bool
}

func (p *runningProc) terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return
	}
	p.terminated = true
	p.cancel()
	if p.cmd.Process != nil {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
	}
}

// dispatch is the single-shot reentrant dispatch loop: while free slots
// exist it launches the earliest queue item whose retryAt has passed. If
// items remain with a future retryAt it schedules one wakeup at the
// earliest of them.
func (m *Manager) dispatch() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	defer func() {
		m.mu.Lock()
		m.dispatching = false
		m.mu.Unlock()
	}()
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if len(m.running) >= m.cfg.MaxConcurrentProcesses {
			m.mu.Unlock()
			return
		}

		idx := -1
		now := time.Now()
		for i, qi := range m.queue {
			if !qi.retryAt.After(now) {
				if idx == -1 || qi.retryAt.Before(m.queue[idx].retryAt) {
					idx = i
				}
			}
		}
		if idx == -1 {
			m.armWakeupLocked()
			m.mu.Unlock()
			return
		}
		item := m.queue[idx]
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
		task, ok := m.tasks[item.taskID]
		m.mu.Unlock()

		if !ok || task.Status == StatusCancelled || task.Status == StatusStopped {
			continue
		}
		m.launch(task)
	}
}

// armWakeupLocked schedules a single future call to dispatch at the
// earliest pending retryAt. Must hold m.mu.
func (m *Manager) armWakeupLocked() {
	if m.wakeTimer != nil || len(m.queue) == 0 {
		return
	}
	earliest := m.queue[0].retryAt
	for _, qi := range m.queue[1:] {
		if qi.retryAt.Before(earliest) {
			earliest = qi.retryAt
		}
	}
	delay := time.Until(earliest)
	if delay < 0 {
		delay = 0
	}
	m.wakeTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.wakeTimer = nil
		m.mu.Unlock()
		m.dispatch()
	})
}

// launch spawns task's command as a shell child, wires its output into the
// per-task log file and tail buffer, and installs the retry/terminal
// transition once it exits.
func (m *Manager) launch(task *Task) {
	m.mu.Lock()
	task.Status = StatusRunning
	task.Attempts++
	task.LastRunAt = time.Now()
	task.UpdatedAt = task.LastRunAt
	m.schedulePersistLocked()
	m.mu.Unlock()
	m.emit(eventbus.TypeTaskStart, task)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "bash", "-c", task.Command)
	cmd.Dir = task.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = buildTaskEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		m.finishLaunchError(task, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		m.finishLaunchError(task, err)
		return
	}

	if err := cmd.Start(); err != nil {
		cancel()
		m.finishLaunchError(task, err)
		return
	}

	proc := &runningProc{cmd: cmd, cancel: cancel}
	m.mu.Lock()
	m.running[task.ID] = proc
	task.PID = cmd.Process.Pid
	m.mu.Unlock()

	var timeoutTimer *time.Timer
	if task.TimeoutMs > 0 {
		timeoutTimer = time.AfterFunc(time.Duration(task.TimeoutMs)*time.Millisecond, proc.terminate)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go m.pumpLines(task, stdout, &wg)
	go m.pumpLines(task, stderr, &wg)
	wg.Wait()

	waitErr := cmd.Wait()
	if timeoutTimer != nil {
		timeoutTimer.Stop()
	}

	m.mu.Lock()
	delete(m.running, task.ID)
	m.mu.Unlock()

	m.finishRun(task, waitErr)
}

func (m *Manager) finishLaunchError(task *Task, err error) {
	m.mu.Lock()
	task.Status = StatusFailed
	task.Error = err.Error()
	task.UpdatedAt = time.Now()
	m.recentFailures = append(m.recentFailures, task.UpdatedAt)
	m.resolveWaitersLocked(task)
	m.schedulePersistLocked()
	m.pruneLocked()
	m.mu.Unlock()
	m.emit(eventbus.TypeTaskFailed, task)
}

func (m *Manager) pumpLines(task *Task, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		_ = fsutil.AppendLine(task.LogPath, line)

		m.mu.Lock()
		task.Tail = append(task.Tail, line)
		if len(task.Tail) > maxTailLines {
			task.Tail = task.Tail[len(task.Tail)-maxTailLines:]
		}
		m.mu.Unlock()

		m.emit(eventbus.TypeTaskOutput, task)
	}
}

// finishRun applies the launch protocol's post-exit transition: success,
// retry, or terminal failure.
func (m *Manager) finishRun(task *Task, waitErr error) {
	m.mu.Lock()

	if task.Status == StatusStopped || task.Status == StatusCancelled {
		m.resolveWaitersLocked(task)
		m.schedulePersistLocked()
		m.pruneLocked()
		m.mu.Unlock()
		return
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	task.ExitCode = exitCode
	task.UpdatedAt = time.Now()

	if exitCode == 0 {
		task.Status = StatusCompleted
		task.Error = ""
		m.resolveWaitersLocked(task)
		m.schedulePersistLocked()
		m.pruneLocked()
		m.mu.Unlock()
		m.emit(eventbus.TypeTaskEnd, task)
		return
	}

	if waitErr != nil {
		task.Error = waitErr.Error()
	}
	m.recentFailures = append(m.recentFailures, task.UpdatedAt)

	if task.Attempts <= task.MaxRetries {
		delay := time.Duration(task.RetryDelayMs) * time.Millisecond
		task.Status = StatusQueued
		m.queue = append(m.queue, &queueItem{taskID: task.ID, retryAt: time.Now().Add(delay)})
		m.schedulePersistLocked()
		m.mu.Unlock()
		m.emit(eventbus.TypeTaskQueued, task)
		safego.Go(m.logger, "tasks.dispatch", m.dispatch)
		return
	}

	task.Status = StatusFailed
	m.resolveWaitersLocked(task)
	m.schedulePersistLocked()
	m.pruneLocked()
	m.mu.Unlock()
	m.emit(eventbus.TypeTaskFailed, task)
}

func buildTaskEnv() []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	home, _ := os.UserHomeDir()
	env := []string{
		"PATH=" + path,
		"HOME=" + home,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
	}
	return env
}
