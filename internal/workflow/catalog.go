package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StepSpec is a step definition inside a template. It carries the same
// fields as Step minus runtime state.
type StepSpec struct {
	ID                string
	Name              string
	Description       string
	Function          string
	Parameters        map[string]any
	Dependencies      []string
	EstimatedDuration time.Duration
	Timeout           time.Duration
	RetryLimit        int
	Optional          bool
}

// Template is an immutable, reusable blueprint from which workflows are
// instantiated. Recurrence is informational only; there is no embedded
// cron engine.
type Template struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Type           Type          `json:"type"`
	Recurrence     string        `json:"recurrence,omitempty"`
	EstimatedTotal time.Duration `json:"estimated_total"`
	Steps          []StepSpec    `json:"-"`
}

// TemplateSummary describes a template for listing endpoints.
type TemplateSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Type             Type   `json:"type"`
	StepsCount       int    `json:"steps_count"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Recurrence       string `json:"recurrence,omitempty"`
}

// Catalog holds the read-only set of workflow templates, loaded once at
// startup.
type Catalog struct {
	templates map[string]*Template
	order     []string
	logger    *zap.Logger
}

// NewCatalog builds a catalog from the built-in marine analysis templates.
func NewCatalog(logger *zap.Logger) *Catalog {
	c := &Catalog{
		templates: make(map[string]*Template),
		logger:    logger,
	}
	for _, tpl := range builtinTemplates() {
		if err := c.add(tpl); err != nil {
			// Built-in templates are static; a bad one is a programming error.
			panic(err)
		}
	}
	return c
}

// add validates a template and stores it. The only structural check the
// catalog owns is that every dependency id names a step of the same
// template; cycles are caught at run time by the scheduling loop.
func (c *Catalog) add(tpl *Template) error {
	ids := make(map[string]bool, len(tpl.Steps))
	for _, s := range tpl.Steps {
		if s.ID == "" || s.Function == "" {
			return fmt.Errorf("template %s: step missing id or function", tpl.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("template %s: duplicate step id %q", tpl.ID, s.ID)
		}
		ids[s.ID] = true
	}
	for _, s := range tpl.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("template %s: step %q depends on unknown step %q", tpl.ID, s.ID, dep)
			}
		}
	}
	c.templates[tpl.ID] = tpl
	c.order = append(c.order, tpl.ID)
	c.logger.Debug("template loaded",
		zap.String("template", tpl.ID),
		zap.Int("steps", len(tpl.Steps)))
	return nil
}

// Get returns a template by id.
func (c *Catalog) Get(id string) (*Template, error) {
	tpl, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	return tpl, nil
}

// List returns summaries of all templates in load order.
func (c *Catalog) List() []TemplateSummary {
	out := make([]TemplateSummary, 0, len(c.order))
	for _, id := range c.order {
		tpl := c.templates[id]
		out = append(out, TemplateSummary{
			ID:               tpl.ID,
			Name:             tpl.Name,
			Description:      tpl.Description,
			Type:             tpl.Type,
			StepsCount:       len(tpl.Steps),
			EstimatedMinutes: int(tpl.EstimatedTotal / time.Minute),
			Recurrence:       tpl.Recurrence,
		})
	}
	return out
}

// InstantiateOptions customizes a workflow created from a template.
type InstantiateOptions struct {
	// Name overrides the template's display name.
	Name string
	// Overrides maps step id to parameter overrides merged over the
	// template's defaults for that step.
	Overrides map[string]map[string]any
	// ScheduleAt holds the workflow in the scheduled set until due.
	ScheduleAt *time.Time
	CreatedBy  string
	Priority   Priority
}

// Instantiate deep-copies a template into a fresh runtime workflow, so
// later mutation of the instance never reaches the template.
func (c *Catalog) Instantiate(templateID string, opts InstantiateOptions) (*Workflow, error) {
	tpl, err := c.Get(templateID)
	if err != nil {
		return nil, err
	}

	steps := make([]*Step, 0, len(tpl.Steps))
	for _, spec := range tpl.Steps {
		params := make(map[string]any, len(spec.Parameters))
		for k, v := range spec.Parameters {
			params[k] = v
		}
		for k, v := range opts.Overrides[spec.ID] {
			params[k] = v
		}
		deps := make([]string, len(spec.Dependencies))
		copy(deps, spec.Dependencies)

		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = DefaultStepTimeout
		}
		retries := spec.RetryLimit
		if retries <= 0 {
			retries = DefaultRetryLimit
		}
		steps = append(steps, &Step{
			ID:                spec.ID,
			Name:              spec.Name,
			Description:       spec.Description,
			Function:          spec.Function,
			Parameters:        params,
			Dependencies:      deps,
			EstimatedDuration: spec.EstimatedDuration,
			Timeout:           timeout,
			RetryLimit:        retries,
			Optional:          spec.Optional,
		})
	}

	name := opts.Name
	if name == "" {
		name = tpl.Name
	}
	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = "admin"
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	wf := &Workflow{
		ID:             uuid.New().String(),
		Name:           name,
		Description:    tpl.Description,
		TemplateID:     tpl.ID,
		Type:           tpl.Type,
		Status:         StatusCreated,
		Priority:       priority,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now(),
		Steps:          steps,
		Outputs:        make(map[string]any),
		Recurrence:     tpl.Recurrence,
		EstimatedTotal: tpl.EstimatedTotal,
	}
	if opts.ScheduleAt != nil && opts.ScheduleAt.After(time.Now()) {
		at := *opts.ScheduleAt
		wf.ScheduledAt = &at
		wf.Status = StatusScheduled
	}

	c.logger.Info("workflow instantiated",
		zap.String("workflow", wf.ID),
		zap.String("template", tpl.ID),
		zap.String("status", string(wf.Status)))
	return wf, nil
}
