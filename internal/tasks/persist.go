package tasks

import (
	"os"
	"time"

	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// loadAndReconcile reads the persisted task set and brings it back to a
// consistent running state: schedules reinstall their timers, and any
// command task caught mid-flight by a previous shutdown (running or
// queued) becomes queued and is re-enqueued.
func (m *Manager) loadAndReconcile() error {
	var data fileFormat
	if err := fsutil.ReadJSONOrBackup(m.statePath(), &data); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.KindInternal, "load task state", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, t := range data.Tasks {
		m.tasks[t.ID] = t

		switch t.Type {
		case TypeSchedule:
			if t.Status == StatusCancelled {
				continue
			}
			t.Status = StatusRunning
			if t.NextRunAt.Before(now) {
				t.NextRunAt = now.Add(time.Duration(t.IntervalMs) * time.Millisecond)
			}
			m.installScheduleTimerLocked(t)
		case TypeCommand:
			if t.Status == StatusRunning || t.Status == StatusQueued {
				t.Status = StatusQueued
				t.UpdatedAt = now
				m.queue = append(m.queue, &queueItem{taskID: t.ID, retryAt: now})
			}
		}
	}
	return nil
}
