// Package safego launches goroutines that must never take the process down
// with them. Every background dispatch loop in the runtime — the lane
// queue's per-lane worker, the task manager's dispatch loop, the
// autonomous loop's ticker, the memory store's reindex watcher — starts
// through Go so a panic becomes a logged error instead of a crash.
package safego

import (
	"go.uber.org/zap"
)

// Go launches fn in a new goroutine with panic recovery. name identifies
// the goroutine in logs.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine panicked",
						zap.String("goroutine", name),
						zap.Any("panic", r),
						zap.Stack("stack"),
					)
				}
			}
		}()
		fn()
	}()
}

// Recover runs fn and reports a panic through its return values (panicked
// and the recovered value) instead of letting it propagate. Used inside the
// lane queue and the event bus, where a single unit of work's panic must
// not take down the dispatcher.
func Recover(logger *zap.Logger, name string, fn func()) (panicked bool, panicValue any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			panicValue = r
			if logger != nil {
				logger.Error("work item panicked",
					zap.String("name", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}
	}()
	fn()
	return
}
