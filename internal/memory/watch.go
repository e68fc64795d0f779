package memory

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// watchState holds the filesystem watcher and the debounce timer coalescing
// bursts of markdown writes into a single reindex.
type watchState struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	timer   *time.Timer
	timerMu chan struct{} // 1-slot mutex guarding timer access from two goroutines
}

// startWatch watches the memory root (and its sessions/soul-journal
// subdirectories) for .md changes and schedules a debounced Reindex after
// each burst settles.
func (s *Store) startWatch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("memory: failed to start filesystem watch", zap.Error(err))
		return
	}

	dirs := []string{s.cfg.RootDir, s.path("sessions"), s.path("soul-journal")}
	for _, d := range dirs {
		_ = watcher.Add(d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &watchState{watcher: watcher, cancel: cancel, timerMu: make(chan struct{}, 1)}
	ws.timerMu <- struct{}{}
	s.watcher = ws

	safego.Go(s.logger, "memory-watch", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".md") {
					continue
				}
				s.scheduleReindex()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("memory: filesystem watch error", zap.Error(err))
			}
		}
	})
}

func (s *Store) stopWatch() {
	if s.watcher == nil {
		return
	}
	s.watcher.cancel()
	_ = s.watcher.watcher.Close()
}

// scheduleReindex coalesces repeated calls within ReindexDebounce into one
// Reindex call.
func (s *Store) scheduleReindex() {
	if s.watcher == nil {
		// no watcher (the filesystem watch failed to start) — still honor
		// write-path calls by reindexing once, inline.
		if err := s.Reindex(context.Background()); err != nil {
			s.logger.Error("memory: inline reindex failed", zap.Error(err))
		}
		return
	}
	<-s.watcher.timerMu
	defer func() { s.watcher.timerMu <- struct{}{} }()

	if s.watcher.timer != nil {
		s.watcher.timer.Stop()
	}
	s.watcher.timer = time.AfterFunc(s.cfg.ReindexDebounce, func() {
		if err := s.Reindex(context.Background()); err != nil {
			s.logger.Error("memory: debounced reindex failed", zap.Error(err))
		}
	})
}
