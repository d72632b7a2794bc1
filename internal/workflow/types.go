package workflow

import (
	"sync"
	"time"
)

// Status tracks a workflow's lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority is advisory; it does not affect scheduling order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Type tags a workflow with its scientific discipline.
type Type string

const (
	TypeBiodiversityAnalysis     Type = "biodiversity_analysis"
	TypeOceanographicMonitoring  Type = "oceanographic_monitoring"
	TypeSpeciesDistribution      Type = "species_distribution"
	TypeFisheriesAssessment      Type = "fisheries_assessment"
	TypeHabitatSuitability       Type = "habitat_suitability"
	TypeSeasonalAnalysis         Type = "seasonal_analysis"
	TypeEnvironmentalImpact      Type = "environmental_impact"
	TypeConservationPlanning     Type = "conservation_planning"
)

// Per-step defaults applied at instantiation when a template leaves them unset.
const (
	DefaultStepTimeout = time.Hour
	DefaultRetryLimit  = 3
)

// Step is the smallest schedulable unit of work, bound to a named function
// and a set of dependency ids. Steps are immutable once a run starts.
type Step struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Function          string         `json:"function"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
	Timeout           time.Duration  `json:"timeout"`
	RetryLimit        int            `json:"retry_limit"`
	Optional          bool           `json:"optional"`
}

// Workflow is one runtime execution instance of a set of interdependent
// steps. Status, Progress, Outputs and ErrorLog are mutated only by the
// engine while the workflow is running; reads go through Snapshot.
type Workflow struct {
	ID             string
	Name           string
	Description    string
	TemplateID     string
	Type           Type
	Status         Status
	Priority       Priority
	CreatedBy      string
	CreatedAt      time.Time
	ScheduledAt    *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Steps          []*Step
	CurrentStep    string
	Progress       float64
	Outputs        map[string]any
	ErrorLog       []string
	Recurrence     string
	EstimatedTotal time.Duration

	mu sync.Mutex
}

// Summary is a read-only snapshot of a workflow, safe to hold across
// engine mutations.
type Summary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	TemplateID     string     `json:"template_id,omitempty"`
	Type           Type       `json:"type"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	CreatedBy      string     `json:"created_by"`
	Progress       float64    `json:"progress"`
	CurrentStep    string     `json:"current_step,omitempty"`
	StepsTotal     int        `json:"steps_total"`
	OutputKeys     []string   `json:"output_keys"`
	ErrorCount     int        `json:"error_count"`
	ErrorLog       []string   `json:"error_log,omitempty"`
	Recurrence     string     `json:"recurrence,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Snapshot returns a consistent read-only view of the workflow.
func (w *Workflow) Snapshot() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.Outputs))
	for k := range w.Outputs {
		keys = append(keys, k)
	}
	errs := make([]string, len(w.ErrorLog))
	copy(errs, w.ErrorLog)

	return Summary{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		TemplateID:  w.TemplateID,
		Type:        w.Type,
		Status:      w.Status,
		Priority:    w.Priority,
		CreatedBy:   w.CreatedBy,
		Progress:    w.Progress,
		CurrentStep: w.CurrentStep,
		StepsTotal:  len(w.Steps),
		OutputKeys:  keys,
		ErrorCount:  len(errs),
		ErrorLog:    errs,
		Recurrence:  w.Recurrence,
		CreatedAt:   w.CreatedAt,
		ScheduledAt: w.ScheduledAt,
		StartedAt:   w.StartedAt,
		CompletedAt: w.CompletedAt,
	}
}

// View is the read-only projection handed to step functions. Outputs holds
// a copy of the results of steps settled before this one was dispatched, so
// downstream steps can consume upstream data without touching live state.
type View struct {
	ID        string
	Name      string
	Type      Type
	CreatedBy string
	Outputs   map[string]any
}

// view builds a View under the workflow lock.
func (w *Workflow) view() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	outputs := make(map[string]any, len(w.Outputs))
	for k, v := range w.Outputs {
		outputs[k] = v
	}
	return View{
		ID:        w.ID,
		Name:      w.Name,
		Type:      w.Type,
		CreatedBy: w.CreatedBy,
		Outputs:   outputs,
	}
}

// Receipt is returned by Execute; failures after this point surface only
// through Status polling.
type Receipt struct {
	WorkflowID          string    `json:"workflow_id"`
	Status              string    `json:"status"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// Event is a workflow lifecycle notification emitted by the engine.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"` // "started", "step_completed", "completed", "failed", "cancelled"
	Status     Status    `json:"status"`
	StepID     string    `json:"step_id,omitempty"`
	Progress   float64   `json:"progress"`
	Timestamp  time.Time `json:"timestamp"`
}
