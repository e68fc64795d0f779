// Package objectives is the durable priority queue the autonomous loop and
// the dashboard draw work items from. The whole set lives in one JSON file,
// rewritten atomically on every change — there is no incremental log, since
// the set is small and human-editable.
package objectives

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// Status is the lifecycle state of an Objective.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// terminal reports whether a status is fixed once reached. Update refuses
// to move an objective out of such a status; it can still append notes.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Note is a single timestamped audit entry attached to an Objective.
type Note struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Objective is one unit of autonomous or user-directed work.
type Objective struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"` // 1 (highest) .. 5 (lowest)
	Status      Status    `json:"status"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	RunCount    int       `json:"runCount"`
	LastRunAt   time.Time `json:"lastRunAt,omitempty"`
	Notes       []Note    `json:"notes"`
}

// AddInput carries the fields a caller supplies when creating an Objective.
type AddInput struct {
	Title       string
	Description string
	Priority    int
	Source      string
}

// UpdateInput carries the fields a caller may change on an existing
// Objective. Zero values (empty Status, empty Note) leave the field untouched.
type UpdateInput struct {
	ID     string
	Status Status
	Note   string
}

// ExpireConfig bounds how long an Objective may sit idle before
// ExpireStale forces it to a terminal or blocked state.
type ExpireConfig struct {
	PendingMaxAge     time.Duration
	InProgressMaxIdle time.Duration
}

// Stats summarizes the queue's current composition.
type Stats struct {
	Total     int            `json:"total"`
	ByStatus  map[Status]int `json:"byStatus"`
	Oldest    time.Time      `json:"oldest,omitempty"`
	NewestRun time.Time      `json:"newestRun,omitempty"`
}

// Store is the objective queue: an in-memory slice mirrored atomically to
// a JSON file on every mutation.
type Store struct {
	mu   sync.Mutex
	path string
	bus  *eventbus.Bus
	log  *zap.Logger

	items []*Objective
	seq   int64
}

type fileFormat struct {
	Objectives []*Objective `json:"objectives"`
}

// Open loads path into a Store, creating an empty queue if the file does
// not exist. bus and logger may be nil.
func Open(path string, bus *eventbus.Bus, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path: path,
		bus:  bus,
		log:  logger.With(zap.String("component", "objectives")),
	}

	var data fileFormat
	if err := fsutil.ReadJSONOrBackup(path, &data); err != nil {
		if !os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.KindInternal, "load objectives", err)
		}
	}
	s.items = data.Objectives
	if s.items == nil {
		s.items = []*Objective{}
	}
	return s, nil
}

// Add creates a new pending Objective and persists the queue.
func (s *Store) Add(in AddInput) (*Objective, error) {
	if in.Title == "" {
		return nil, apperr.New(apperr.KindValidation, "objective title must not be empty")
	}
	if in.Priority < 1 || in.Priority > 5 {
		in.Priority = 3
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.seq++
	obj := &Objective{
		ID:          fmt.Sprintf("obj_%d_%d", now.UnixNano(), s.seq),
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      StatusPending,
		Source:      in.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
		Notes:       []Note{},
	}
	s.items = append(s.items, obj)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	s.emit(eventbus.TypeObjectiveCreated, obj)
	return obj, nil
}

// List returns a copy of all objectives, optionally filtered by status.
// An empty status returns everything.
func (s *Store) List(status Status) []*Objective {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Objective, 0, len(s.items))
	for _, o := range s.items {
		if status == "" || o.Status == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// GetByID returns the objective with the given id, or nil.
func (s *Store) GetByID(id string) *Objective {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.items {
		if o.ID == id {
			cp := *o
			return &cp
		}
	}
	return nil
}

// Update applies status and/or a note to the objective named by in.ID.
// Terminal statuses are immutable: once an objective is completed, failed,
// or cancelled, only appending a note is permitted.
func (s *Store) Update(in UpdateInput) (*Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.findLocked(in.ID)
	if obj == nil {
		return nil, apperr.New(apperr.KindNotFound, "objective not found: "+in.ID)
	}

	if in.Status != "" && in.Status != obj.Status {
		if obj.Status.terminal() {
			return nil, apperr.New(apperr.KindValidation, "objective is in a terminal status and cannot transition")
		}
		obj.Status = in.Status
	}
	if in.Note != "" {
		obj.Notes = append(obj.Notes, Note{At: time.Now(), Text: in.Note})
	}
	obj.UpdatedAt = time.Now()

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	cp := *obj
	s.emit(eventbus.TypeObjectiveUpdated, &cp)
	return &cp, nil
}

// PickForAutonomous selects the objective the autonomous loop should work
// on next: the oldest-updated in-progress objective if one exists,
// otherwise the highest-priority (lowest numeric value) pending objective,
// tie-broken by oldest createdAt. Returns nil if nothing is eligible.
func (s *Store) PickForAutonomous() *Objective {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bestInProgress *Objective
	for _, o := range s.items {
		if o.Status != StatusInProgress {
			continue
		}
		if bestInProgress == nil || o.UpdatedAt.Before(bestInProgress.UpdatedAt) {
			bestInProgress = o
		}
	}
	if bestInProgress != nil {
		cp := *bestInProgress
		return &cp
	}

	var best *Objective
	for _, o := range s.items {
		if o.Status != StatusPending {
			continue
		}
		if best == nil ||
			o.Priority < best.Priority ||
			(o.Priority == best.Priority && o.CreatedAt.Before(best.CreatedAt)) {
			best = o
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// MarkPicked transitions the objective to in_progress and bumps its run
// count, unless it has already reached a terminal status.
func (s *Store) MarkPicked(id string) (*Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.findLocked(id)
	if obj == nil {
		return nil, apperr.New(apperr.KindNotFound, "objective not found: "+id)
	}
	if obj.Status.terminal() {
		cp := *obj
		return &cp, nil
	}
	obj.Status = StatusInProgress
	obj.RunCount++
	obj.LastRunAt = time.Now()
	obj.UpdatedAt = obj.LastRunAt
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	cp := *obj
	return &cp, nil
}

// ExpireStale forces pending objectives older than cfg.PendingMaxAge to
// cancelled, and in_progress objectives idle longer than
// cfg.InProgressMaxIdle to blocked, each with an audit note. Returns the
// number of objectives changed.
func (s *Store) ExpireStale(cfg ExpireConfig) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	changed := 0
	for _, o := range s.items {
		switch {
		case o.Status == StatusPending && cfg.PendingMaxAge > 0 && now.Sub(o.CreatedAt) > cfg.PendingMaxAge:
			o.Status = StatusCancelled
			o.Notes = append(o.Notes, Note{At: now, Text: "expired: pending objective exceeded max age"})
			o.UpdatedAt = now
			changed++
		case o.Status == StatusInProgress && cfg.InProgressMaxIdle > 0 && now.Sub(o.UpdatedAt) > cfg.InProgressMaxIdle:
			o.Status = StatusBlocked
			o.Notes = append(o.Notes, Note{At: now, Text: "blocked: in-progress objective idle too long"})
			o.UpdatedAt = now
			changed++
		}
	}
	if changed > 0 {
		if err := s.persistLocked(); err != nil {
			return 0, err
		}
	}
	return changed, nil
}

// Stats summarizes the current queue.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{ByStatus: make(map[Status]int)}
	for _, o := range s.items {
		st.Total++
		st.ByStatus[o.Status]++
		if st.Oldest.IsZero() || o.CreatedAt.Before(st.Oldest) {
			st.Oldest = o.CreatedAt
		}
		if o.LastRunAt.After(st.NewestRun) {
			st.NewestRun = o.LastRunAt
		}
	}
	return st
}

func (s *Store) findLocked(id string) *Objective {
	for _, o := range s.items {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (s *Store) persistLocked() error {
	sorted := make([]*Objective, len(s.items))
	copy(sorted, s.items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if err := fsutil.WriteJSONAtomic(s.path, fileFormat{Objectives: sorted}); err != nil {
		return apperr.Wrap(apperr.KindInternal, "persist objectives", err)
	}
	return nil
}

func (s *Store) emit(eventType string, obj *Objective) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(eventType, obj)
}
