// Package lane implements the runtime's keyed FIFO scheduler. Work
// submitted under the same lane key always runs strictly in arrival order;
// work under distinct keys runs fully in parallel. Lanes map one-to-one to
// user conversations, so serializing per lane removes interleaving of LLM
// turns for a single interlocutor while still using every core across
// distinct conversations.
package lane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// Fn is a unit of lane work. It receives the context passed to Enqueue and
// returns a result or an error; a panic inside Fn is recovered and
// surfaced to the caller as an error, never taking down the worker.
type Fn func(ctx context.Context) (any, error)

// Queue is a keyed FIFO scheduler with a global depth cap.
type Queue struct {
	mu         sync.Mutex
	lanes      map[string]*lane
	totalDepth int
	maxDepth   int
	bus        *eventbus.Bus
	logger     *zap.Logger
}

type lane struct {
	key    string
	queue  []*workItem
	active bool
}

type workItem struct {
	ctx      context.Context
	fn       Fn
	resultCh chan result
}

type result struct {
	val any
	err error
}

// Snapshot is the lane/queue depth triple emitted with every enqueue/start/
// end event.
type Snapshot struct {
	LaneKey    string    `json:"laneKey"`
	LaneDepth  int       `json:"laneDepth"`
	Active     int       `json:"active"`
	TotalDepth int       `json:"totalDepth"`
	At         time.Time `json:"at"`
}

// New builds a Queue with the given global depth cap. bus and logger may be
// nil.
func New(maxDepth int, bus *eventbus.Bus, logger *zap.Logger) *Queue {
	if maxDepth <= 0 {
		maxDepth = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		lanes:    make(map[string]*lane),
		maxDepth: maxDepth,
		bus:      bus,
		logger:   logger.With(zap.String("component", "lane")),
	}
}

// Enqueue submits fn to run under laneKey and blocks until it completes (or
// the queue rejects it as overflowing). It returns fn's own return value
// and error, or a QueueOverflow apperr.Error if the global depth cap is
// already reached.
func (q *Queue) Enqueue(ctx context.Context, laneKey string, fn Fn) (any, error) {
	q.mu.Lock()
	if q.totalDepth >= q.maxDepth {
		q.mu.Unlock()
		return nil, apperr.New(apperr.KindQueueOverflow, fmt.Sprintf("lane queue depth %d reached cap %d", q.totalDepth, q.maxDepth))
	}
	q.totalDepth++

	l, ok := q.lanes[laneKey]
	if !ok {
		l = &lane{key: laneKey}
		q.lanes[laneKey] = l
	}

	item := &workItem{ctx: ctx, fn: fn, resultCh: make(chan result, 1)}
	l.queue = append(l.queue, item)

	shouldStart := !l.active
	if shouldStart {
		l.active = true
	}
	snap := q.snapshotLocked(l)
	q.mu.Unlock()

	q.emit(laneKey, "enqueue", snap)

	if shouldStart {
		safego.Go(q.logger, "lane:"+laneKey, func() { q.drain(laneKey) })
	}

	select {
	case res := <-item.resultCh:
		return res.val, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain runs every queued item for laneKey in order until the lane is
// empty, then removes the lane record.
func (q *Queue) drain(laneKey string) {
	for {
		q.mu.Lock()
		l := q.lanes[laneKey]
		if l == nil || len(l.queue) == 0 {
			if l != nil {
				l.active = false
				delete(q.lanes, laneKey)
			}
			q.mu.Unlock()
			return
		}
		item := l.queue[0]
		l.queue = l.queue[1:]
		snap := q.snapshotLocked(l)
		q.mu.Unlock()

		q.emit(laneKey, "start", snap)

		panicked, pv := safego.Recover(q.logger, "lane-item:"+laneKey, func() {
			val, err := item.fn(item.ctx)
			item.resultCh <- result{val: val, err: err}
		})
		if panicked {
			item.resultCh <- result{err: fmt.Errorf("lane item panicked: %v", pv)}
		}

		q.mu.Lock()
		q.totalDepth--
		snap = q.snapshotLocked(l)
		q.mu.Unlock()

		q.emit(laneKey, "end", snap)
	}
}

// snapshotLocked must be called with q.mu held.
func (q *Queue) snapshotLocked(l *lane) Snapshot {
	active := 0
	if l.active {
		active = 1
	}
	return Snapshot{
		LaneKey:    l.key,
		LaneDepth:  len(l.queue),
		Active:     active,
		TotalDepth: q.totalDepth,
		At:         time.Now(),
	}
}

func (q *Queue) emit(laneKey, phase string, snap Snapshot) {
	if q.bus == nil {
		return
	}
	q.bus.Emit("lane."+phase, map[string]any{
		"laneKey": laneKey,
		"phase":   phase,
		"depth":   snap,
	})
}

// Depth returns the current global pending+active depth.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalDepth
}

// LaneDepth returns the pending queue length for laneKey, or 0 if the lane
// does not currently exist.
func (q *Queue) LaneDepth(laneKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[laneKey]; ok {
		return len(l.queue)
	}
	return 0
}

// Snapshots returns one Snapshot per currently live lane, for the
// dashboard's debug surface. A lane with an empty queue and no active
// drain goroutine is removed from the map by drain, so this only ever
// reports lanes with pending or in-flight work.
func (q *Queue) Snapshots() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Snapshot, 0, len(q.lanes))
	for _, l := range q.lanes {
		out = append(out, q.snapshotLocked(l))
	}
	return out
}
