package tasks

import (
	"time"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// installScheduleTimerLocked arms a one-shot timer that fires at task's
// NextRunAt, launches one child command tick, then reinstalls itself for
// the following interval. Must be called with m.mu held.
func (m *Manager) installScheduleTimerLocked(task *Task) {
	delay := time.Until(task.NextRunAt)
	if delay < 0 {
		delay = 0
	}
	m.scheduleTimers[task.ID] = time.AfterFunc(delay, func() {
		m.tick(task.ID)
	})
}

// tick fires one schedule iteration: it creates and enqueues a child
// command task, then reinstalls the schedule's timer for the next
// interval.
func (m *Manager) tick(scheduleID string) {
	m.mu.Lock()
	schedule, ok := m.tasks[scheduleID]
	if !ok || schedule.Status == StatusCancelled {
		delete(m.scheduleTimers, scheduleID)
		m.mu.Unlock()
		return
	}

	now := time.Now()
	childID := m.nextID()
	child := &Task{
		ID:           childID,
		Name:         schedule.Name,
		Type:         TypeCommand,
		Command:      schedule.Command,
		WorkDir:      schedule.WorkDir,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		ParentTaskID: schedule.ID,
		TimeoutMs:    schedule.TimeoutMs,
		Background:   true,
		LogPath:      m.logPath(childID),
	}
	m.tasks[child.ID] = child
	m.queue = append(m.queue, &queueItem{taskID: child.ID, retryAt: now})

	schedule.LastRunAt = now
	schedule.NextRunAt = now.Add(time.Duration(schedule.IntervalMs) * time.Millisecond)
	schedule.UpdatedAt = now

	m.installScheduleTimerLocked(schedule)
	m.schedulePersistLocked()
	m.mu.Unlock()

	m.emit(eventbus.TypeTaskQueued, child)
	safego.Go(m.logger, "tasks.dispatch", m.dispatch)
}
