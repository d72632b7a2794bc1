package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics aggregates workflow counters across the whole process. Counters
// are updated together with the registry moves that justify them, under
// the store lock.
type Metrics struct {
	Total         int     `json:"total_workflows"`
	Active        int     `json:"active_workflows"`
	Succeeded     int     `json:"successful_workflows"`
	Failed        int     `json:"failed_workflows"`
	Scheduled     int     `json:"scheduled_workflows"`
	AnalysisHours float64 `json:"total_analysis_hours"`
}

// Store owns every workflow instance in the process, partitioned by
// lifecycle. It is the only shared mutable state between workflows; all
// access goes through the single mutex. Workflow-instance fields remain
// owned by the engine coordinator.
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow // every instance ever registered
	active    map[string]*Workflow
	completed map[string]*Workflow
	scheduled map[string]*Workflow
	metrics   Metrics
	logger    *zap.Logger
}

// NewStore creates an empty workflow store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		workflows: make(map[string]*Workflow),
		active:    make(map[string]*Workflow),
		completed: make(map[string]*Workflow),
		scheduled: make(map[string]*Workflow),
		logger:    logger,
	}
}

// Add registers a freshly instantiated workflow. Scheduled instances are
// also indexed in the scheduled set for the dispatcher.
func (s *Store) Add(wf *Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[wf.ID] = wf
	s.metrics.Total++
	if wf.Status == StatusScheduled {
		s.scheduled[wf.ID] = wf
		s.metrics.Scheduled++
	}
	s.logger.Info("workflow registered",
		zap.String("workflow", wf.ID),
		zap.String("name", wf.Name),
		zap.String("status", string(wf.Status)))
}

// Get returns a workflow by id.
func (s *Store) Get(id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return wf, nil
}

// BeginRun moves a workflow into the active set. A scheduled instance is
// released from the scheduled set at the same time.
func (s *Store) BeginRun(wf *Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scheduled[wf.ID]; ok {
		delete(s.scheduled, wf.ID)
		s.metrics.Scheduled--
	}
	s.active[wf.ID] = wf
	s.metrics.Active++
}

// FinishRun moves a workflow from the active set into the completed set
// and updates the aggregate metrics for its terminal status. The move
// happens exactly once: a second call for the same id is a no-op.
func (s *Store) FinishRun(wf *Workflow, final Status, started, finished time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[wf.ID]; !ok {
		return false
	}
	delete(s.active, wf.ID)
	s.completed[wf.ID] = wf
	s.metrics.Active--

	switch final {
	case StatusCompleted:
		s.metrics.Succeeded++
		if !started.IsZero() && finished.After(started) {
			s.metrics.AnalysisHours += finished.Sub(started).Hours()
		}
	case StatusFailed:
		s.metrics.Failed++
	}
	return true
}

// RemoveScheduled takes a not-yet-started workflow out of the scheduled
// set, e.g. on cancellation. Returns false if the id was not scheduled.
func (s *Store) RemoveScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scheduled[id]; !ok {
		return false
	}
	delete(s.scheduled, id)
	s.metrics.Scheduled--
	return true
}

// DueScheduled returns the ids of scheduled workflows whose schedule time
// has passed.
func (s *Store) DueScheduled(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []string
	for id, wf := range s.scheduled {
		if wf.ScheduledAt != nil && !wf.ScheduledAt.After(now) {
			due = append(due, id)
		}
	}
	return due
}

// ListActive returns snapshots of all running workflows.
func (s *Store) ListActive() []Summary { return s.list(func() map[string]*Workflow { return s.active }) }

// ListCompleted returns snapshots of all finished workflows.
func (s *Store) ListCompleted() []Summary {
	return s.list(func() map[string]*Workflow { return s.completed })
}

// ListScheduled returns snapshots of all pending scheduled workflows.
func (s *Store) ListScheduled() []Summary {
	return s.list(func() map[string]*Workflow { return s.scheduled })
}

// ListAll returns snapshots of every registered workflow.
func (s *Store) ListAll() []Summary {
	return s.list(func() map[string]*Workflow { return s.workflows })
}

func (s *Store) list(pick func() map[string]*Workflow) []Summary {
	s.mu.RLock()
	wfs := make([]*Workflow, 0, len(pick()))
	for _, wf := range pick() {
		wfs = append(wfs, wf)
	}
	s.mu.RUnlock()

	// Snapshot outside the store lock; Snapshot takes the per-workflow lock.
	out := make([]Summary, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, wf.Snapshot())
	}
	return out
}

// Snapshot returns a copy of the aggregate metrics.
func (s *Store) SnapshotMetrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}
