// Package session is the agent session registry: the lane-key to
// conversation-session map the orchestrator uses to remember per-lane
// state across turns, bounded by an LRU-plus-idle-timeout eviction policy.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/safego"
)

// Session is the per-lane conversational state the orchestrator tracks:
// lane keys, channel metadata, timestamps, and a message count.
type Session struct {
	LaneKey      string
	BaseLaneKey  string
	Source       string
	ChannelID    string
	SessionID    string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	MessageCount int

	running bool
}

// Config bounds the registry's capacity and idle eviction behavior.
type Config struct {
	MaxLanes      int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

const (
	defaultMaxLanes      = 200
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Registry owns every live Session, keyed by laneKey.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	bus      *eventbus.Bus
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Registry. bus and logger may be nil.
func New(cfg Config, bus *eventbus.Bus, logger *zap.Logger) *Registry {
	if cfg.MaxLanes <= 0 {
		cfg.MaxLanes = defaultMaxLanes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With(zap.String("component", "session")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background idle-eviction sweep.
func (r *Registry) Start() {
	r.wg.Add(1)
	safego.Go(r.logger, "session.sweep", func() {
		defer r.wg.Done()
		r.sweepLoop()
	})
}

// Stop cancels the sweep loop and waits for it to exit.
func (r *Registry) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

// AcquireOrCreate returns the existing session for laneKey, bumping its
// lastUsedAt, or creates a new one. After acquisition it enforces capacity,
// evicting the least-recently-used non-running lane if the registry is now
// over its configured limit.
func (r *Registry) AcquireOrCreate(laneKey, baseLaneKey, source, channelID, sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[laneKey]; ok {
		s.LastUsedAt = time.Now()
		return s
	}

	now := time.Now()
	s := &Session{
		LaneKey:     laneKey,
		BaseLaneKey: baseLaneKey,
		Source:      source,
		ChannelID:   channelID,
		SessionID:   sessionID,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	r.sessions[laneKey] = s
	r.emit(eventbus.TypeSessionCreated, s)

	r.enforceCapacityLocked()
	return s
}

// SetRunning marks whether laneKey's session is currently executing a lane
// item. A running session is never chosen for eviction.
func (r *Registry) SetRunning(laneKey string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[laneKey]; ok {
		s.running = running
		if running {
			s.LastUsedAt = time.Now()
		}
	}
}

// Touch increments message count and bumps lastUsedAt.
func (r *Registry) Touch(laneKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[laneKey]; ok {
		s.MessageCount++
		s.LastUsedAt = time.Now()
	}
}

// Get returns a copy of the session for laneKey, or nil.
func (r *Registry) Get(laneKey string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[laneKey]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Archive removes laneKey's session immediately, unless it is currently
// running.
func (r *Registry) Archive(laneKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[laneKey]
	if !ok {
		return apperr.New(apperr.KindNotFound, "session not found: "+laneKey)
	}
	if s.running {
		return apperr.New(apperr.KindValidation, "cannot archive a session that is currently running")
	}
	delete(r.sessions, laneKey)
	r.emit(eventbus.TypeSessionEvicted, s)
	return nil
}

// List returns a snapshot of every live session, newest-used first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out
}

// evictIdle removes every non-running session whose lastUsedAt predates the
// configured idle timeout.
func (r *Registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.cfg.IdleTimeout)
	for key, s := range r.sessions {
		if s.running || s.LastUsedAt.After(cutoff) {
			continue
		}
		delete(r.sessions, key)
		r.emit(eventbus.TypeSessionEvicted, s)
	}
}

// enforceCapacityLocked evicts the least-recently-used non-running session
// until the registry is at or below its configured capacity. Must be
// called with r.mu held.
func (r *Registry) enforceCapacityLocked() {
	for len(r.sessions) > r.cfg.MaxLanes {
		var oldestKey string
		var oldest *Session
		for key, s := range r.sessions {
			if s.running {
				continue
			}
			if oldest == nil || s.LastUsedAt.Before(oldest.LastUsedAt) {
				oldest = s
				oldestKey = key
			}
		}
		if oldest == nil {
			// every remaining session is running; nothing more to evict.
			return
		}
		delete(r.sessions, oldestKey)
		r.emit(eventbus.TypeSessionEvicted, oldest)
	}
}

func (r *Registry) emit(eventType string, s *Session) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(eventType, s)
}
