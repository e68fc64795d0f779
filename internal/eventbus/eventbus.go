// Package eventbus is the runtime's append-only observability sink. Every
// subsystem — the lane queue, task manager, browser controller, memory
// store, orchestrator — emits through a single Bus instance so the
// dashboard can stream and replay a single, strictly ordered event log.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// Event is one entry on the bus: a monotonic sequence number, a millisecond
// timestamp, a type string, and an arbitrary JSON-serializable payload.
type Event struct {
	Seq     int64  `json:"seq"`
	Ts      int64  `json:"ts"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Listener receives every event emitted after it subscribes.
type Listener func(Event)

// Config controls the bus's ring buffer size, flush cadence, and on-disk
// rotation threshold.
type Config struct {
	// BufferSize is the number of recent events kept in memory for Recent.
	BufferSize int
	// FlushInterval batches consecutive emits into one disk write. Zero
	// picks a default of 200ms.
	FlushInterval time.Duration
	// MaxFileBytes rotates the JSONL log to a single ".1" backup once the
	// live file would exceed this size. Zero picks a default of 8MiB.
	MaxFileBytes int64
	// LogPath is the JSONL file events are appended to. Empty disables
	// persistence — the bus then only serves the in-memory ring and live
	// listeners, which is useful for tests.
	LogPath string
}

const (
	defaultBufferSize    = 500
	defaultFlushInterval = 200 * time.Millisecond
	defaultMaxFileBytes  = 8 * 1024 * 1024
)

// Bus is the runtime event bus. It is safe for concurrent use.
type Bus struct {
	mu sync.Mutex

	cfg    Config
	logger *zap.Logger

	seq  int64
	ring []Event
	head int // index of the oldest element once ring is full

	listeners   map[int64]Listener
	nextListen  int64
	pending     []Event
	flushTimer  *time.Timer
	closed      bool
	closeSignal chan struct{}
}

// New constructs a Bus from cfg, filling in defaults for zero-valued
// fields. If cfg.LogPath is set, its directory is created eagerly so the
// first flush never has to.
func New(cfg Config, logger *zap.Logger) (*Bus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LogPath != "" {
		if err := fsutil.EnsureDir(dirOf(cfg.LogPath)); err != nil {
			return nil, err
		}
	}
	return &Bus{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "eventbus")),
		ring:        make([]Event, 0, cfg.BufferSize),
		listeners:   make(map[int64]Listener),
		closeSignal: make(chan struct{}),
	}, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Emit assigns the next sequence number and the current timestamp to a new
// event, pushes it into the ring buffer, notifies every live listener
// synchronously (so ordering is preserved across emitters), and queues it
// for the debounced disk flush. It returns the event that was recorded.
func (b *Bus) Emit(eventType string, payload any) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Event{}
	}
	b.seq++
	ev := Event{
		Seq:     b.seq,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payload,
	}
	b.pushRing(ev)
	b.pending = append(b.pending, ev)
	b.armFlushLocked()

	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		notifyOne(b.logger, l, ev)
	}
	return ev
}

func notifyOne(logger *zap.Logger, l Listener, ev Event) {
	_, _ = safego.Recover(logger, "eventbus.listener", func() {
		l(ev)
	})
}

func (b *Bus) pushRing(ev Event) {
	if len(b.ring) < cap(b.ring) {
		b.ring = append(b.ring, ev)
		return
	}
	b.ring[b.head] = ev
	b.head = (b.head + 1) % len(b.ring)
}

// Recent returns up to limit of the most recently emitted events, oldest
// first. limit <= 0 returns the entire ring.
func (b *Bus) Recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ordered := make([]Event, 0, len(b.ring))
	if len(b.ring) < cap(b.ring) {
		ordered = append(ordered, b.ring...)
	} else {
		ordered = append(ordered, b.ring[b.head:]...)
		ordered = append(ordered, b.ring[:b.head]...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// On subscribes listener to every event emitted from now on and returns an
// unsubscribe function.
func (b *Bus) On(listener Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextListen
	b.nextListen++
	b.listeners[id] = listener
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// armFlushLocked starts the debounce timer if one isn't already running.
// Must be called with b.mu held.
func (b *Bus) armFlushLocked() {
	if b.cfg.LogPath == "" || b.flushTimer != nil {
		return
	}
	b.flushTimer = time.AfterFunc(b.cfg.FlushInterval, b.flush)
}

// flush writes the pending batch to the JSONL log and rotates it if it has
// grown past the configured cap. It is invoked from its own timer
// goroutine, never under b.mu during Emit.
func (b *Bus) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.flushTimer = nil
	path := b.cfg.LogPath
	maxBytes := b.cfg.MaxFileBytes
	b.mu.Unlock()

	b.writeBatch(path, maxBytes, batch)
}

func (b *Bus) writeBatch(path string, maxBytes int64, batch []Event) {
	if path == "" || len(batch) == 0 {
		return
	}

	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			b.logger.Error("failed to marshal event", zap.Error(err))
			continue
		}
		if err := fsutil.AppendLine(path, string(data)); err != nil {
			b.logger.Error("failed to append event", zap.Error(err))
		}
	}

	if maxBytes > 0 && fsutil.FileSize(path) > maxBytes {
		if err := fsutil.RotateSingleBackup(path); err != nil {
			b.logger.Error("failed to rotate event log", zap.Error(err))
		}
	}
}

// Close stops accepting new events, flushes any pending batch, and cancels
// the debounce timer.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	batch := b.pending
	b.pending = nil
	path := b.cfg.LogPath
	maxBytes := b.cfg.MaxFileBytes
	close(b.closeSignal)
	b.mu.Unlock()

	b.writeBatch(path, maxBytes, batch)
}
