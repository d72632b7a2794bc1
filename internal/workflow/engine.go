package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventSink receives workflow lifecycle events, e.g. a Redis Streams bus.
type EventSink interface {
	Publish(ctx context.Context, e *Event) error
}

// Notifier is told about workflows reaching a terminal state.
type Notifier interface {
	NotifyTerminal(ctx context.Context, s Summary) error
}

// Archiver persists finished run summaries for history queries.
type Archiver interface {
	SaveRun(ctx context.Context, s Summary) error
}

// Engine drives workflows through their dependency graphs. One coordinator
// goroutine per running workflow recomputes the ready set after every
// batch and dispatches ready steps concurrently through a bounded pool
// shared by all workflows. The engine is the only actor that mutates
// workflow status, progress, outputs and error log while running.
type Engine struct {
	registry *Registry
	store    *Store
	events   EventSink
	notifier Notifier
	archive  Archiver
	pool     chan struct{} // semaphore bounding concurrent step dispatches
	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	logger   *zap.Logger
}

// NewEngine creates an engine with a bounded step-dispatch pool.
func NewEngine(registry *Registry, store *Store, poolSize int, logger *zap.Logger) *Engine {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Engine{
		registry: registry,
		store:    store,
		pool:     make(chan struct{}, poolSize),
		cancels:  make(map[string]context.CancelFunc),
		logger:   logger,
	}
}

// SetEvents attaches a lifecycle event sink. Optional.
func (e *Engine) SetEvents(sink EventSink) { e.events = sink }

// SetNotifier attaches a terminal-state notifier. Optional.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetArchive attaches a run archive. Optional.
func (e *Engine) SetArchive(a Archiver) { e.archive = a }

// Execute starts a workflow in the background and returns immediately.
// Step failures never surface here; callers observe them through Status.
func (e *Engine) Execute(id string) (*Receipt, error) {
	wf, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}

	wf.mu.Lock()
	switch {
	case wf.Status == StatusRunning:
		wf.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRunning, id)
	case wf.Status.Terminal():
		wf.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrFinished, id)
	}
	now := time.Now()
	wf.Status = StatusRunning
	wf.StartedAt = &now
	wf.CurrentStep = "starting"
	est := wf.EstimatedTotal
	wf.mu.Unlock()

	if est <= 0 {
		for _, s := range wf.Steps {
			est += s.EstimatedDuration
		}
	}
	if est <= 0 {
		est = time.Hour
	}

	e.store.BeginRun(wf)

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[wf.ID] = cancel
	e.mu.Unlock()

	e.logger.Info("workflow execution started",
		zap.String("workflow", wf.ID),
		zap.String("name", wf.Name),
		zap.Int("steps", len(wf.Steps)))
	e.emit(wf, "started", "")

	go e.run(ctx, wf)

	return &Receipt{
		WorkflowID:          wf.ID,
		Status:              "started",
		EstimatedCompletion: now.Add(est),
	}, nil
}

type stepResult struct {
	step   *Step
	output any
	err    error
}

// run is the scheduling loop: settle steps batch by batch until every step
// has settled, the graph starves, or a required step fails.
func (e *Engine) run(ctx context.Context, wf *Workflow) {
	defer func() {
		e.mu.Lock()
		if cancel, ok := e.cancels[wf.ID]; ok {
			cancel()
			delete(e.cancels, wf.ID)
		}
		e.mu.Unlock()
	}()

	total := len(wf.Steps)
	if total == 0 {
		e.finish(wf, StatusCompleted, nil)
		return
	}

	settled := make(map[string]bool, total)
	done := 0

	for done < total {
		if ctx.Err() != nil {
			// Cancelled; Cancel already finalized the workflow state.
			return
		}

		var ready []*Step
		for _, s := range wf.Steps {
			if settled[s.ID] {
				continue
			}
			runnable := true
			for _, dep := range s.Dependencies {
				if !settled[dep] {
					runnable = false
					break
				}
			}
			if runnable {
				ready = append(ready, s)
			}
		}
		if len(ready) == 0 {
			// The loop starved: cyclic or dangling dependency graph.
			e.finish(wf, StatusFailed,
				fmt.Errorf("%w: no runnable step among %d remaining", ErrDependencyDeadlock, total-done))
			return
		}

		results := make(chan stepResult, len(ready))
		var wg sync.WaitGroup
		for _, s := range ready {
			wg.Add(1)
			go func(step *Step) {
				defer wg.Done()
				e.pool <- struct{}{}        // acquire slot
				defer func() { <-e.pool }() // release slot

				out, err := e.runStep(ctx, wf, step)
				results <- stepResult{step: step, output: out, err: err}
			}(s)
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		var fatal error
		for r := range results {
			// Terminal check and recording share one lock acquisition so a
			// concurrent Cancel cannot land between them. A finalized
			// workflow is never mutated; late results are dropped.
			wf.mu.Lock()
			if wf.Status.Terminal() {
				wf.mu.Unlock()
				e.logger.Debug("step result after terminal state discarded",
					zap.String("workflow", wf.ID),
					zap.String("step", r.step.ID),
					zap.Error(r.err))
				continue
			}

			if r.err != nil {
				wf.ErrorLog = append(wf.ErrorLog, r.err.Error())
				if !r.step.Optional {
					wf.mu.Unlock()
					e.logger.Error("step failed",
						zap.String("workflow", wf.ID),
						zap.String("step", r.step.ID),
						zap.Bool("optional", false),
						zap.Error(r.err))
					if fatal == nil {
						fatal = r.err
					}
					continue
				}
				// An optional failure still settles the step so dependents unblock.
			} else if fatal != nil {
				// Sibling finished after a fatal failure; result discarded.
				wf.mu.Unlock()
				continue
			}

			settled[r.step.ID] = true
			done++

			if r.err == nil {
				wf.Outputs[r.step.ID] = r.output
				wf.CurrentStep = "completed: " + r.step.Name
			} else {
				wf.CurrentStep = "skipped optional: " + r.step.Name
			}
			if done < total {
				// 100 is reserved for the completed terminal state.
				wf.Progress = float64(done) / float64(total) * 100
			}
			wf.mu.Unlock()

			if r.err != nil {
				e.logger.Error("step failed",
					zap.String("workflow", wf.ID),
					zap.String("step", r.step.ID),
					zap.Bool("optional", true),
					zap.Error(r.err))
			}
			e.emit(wf, "step_completed", r.step.ID)
		}

		if fatal != nil {
			e.finish(wf, StatusFailed, fatal)
			return
		}
	}

	e.finish(wf, StatusCompleted, nil)
}

// runStep resolves and invokes a step function, retrying immediately on
// failure up to the step's retry limit. Each attempt gets the full step
// timeout budget.
func (e *Engine) runStep(ctx context.Context, wf *Workflow, step *Step) (any, error) {
	fn, err := e.registry.Resolve(step.Function)
	if err != nil {
		return nil, &StepError{StepID: step.ID, Err: err}
	}

	retries := step.RetryLimit
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		out, err := e.attempt(ctx, fn, wf.view(), step)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt < retries {
			e.logger.Warn("step attempt failed, retrying",
				zap.String("workflow", wf.ID),
				zap.String("step", step.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, &StepError{StepID: step.ID, Err: lastErr}
}

// attempt invokes fn once under the step deadline. A function that ignores
// ctx is not forcibly killed; it keeps running in its goroutine while the
// attempt is reported as timed out.
func (e *Engine) attempt(ctx context.Context, fn StepFunc, view View, step *Step) (any, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	ch := make(chan outcome, 1) // buffered so an abandoned fn can still return

	go func() {
		out, err := fn(attemptCtx, view, step)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %q exceeded %s", ErrStepTimeout, step.ID, timeout)
			}
			return nil, fmt.Errorf("%w: %w", ErrStepExecution, o.err)
		}
		return o.out, nil
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %q exceeded %s", ErrStepTimeout, step.ID, timeout)
		}
		return nil, attemptCtx.Err()
	}
}

// finish records a terminal state reached by the scheduling loop. A
// workflow already finalized by Cancel is left untouched.
func (e *Engine) finish(wf *Workflow, final Status, cause error) {
	now := time.Now()

	wf.mu.Lock()
	if wf.Status.Terminal() {
		wf.mu.Unlock()
		return
	}
	wf.Status = final
	wf.CompletedAt = &now
	switch final {
	case StatusCompleted:
		wf.Progress = 100
		wf.CurrentStep = "completed"
	case StatusFailed:
		wf.CurrentStep = "failed"
		if cause != nil {
			wf.ErrorLog = append(wf.ErrorLog, fmt.Sprintf("workflow failed: %v", cause))
		}
	}
	var started time.Time
	if wf.StartedAt != nil {
		started = *wf.StartedAt
	}
	wf.mu.Unlock()

	e.store.FinishRun(wf, final, started, now)

	kind := "completed"
	if final == StatusFailed {
		kind = "failed"
	}
	e.emit(wf, kind, "")
	e.afterTerminal(wf)

	if final == StatusCompleted {
		e.logger.Info("workflow completed",
			zap.String("workflow", wf.ID),
			zap.String("name", wf.Name),
			zap.Duration("took", now.Sub(started)))
	} else {
		e.logger.Error("workflow failed",
			zap.String("workflow", wf.ID),
			zap.String("name", wf.Name),
			zap.Error(cause))
	}
}

// Cancel stops a workflow. A running workflow is finalized immediately and
// its context cancelled; steps that ignore the context keep running but
// their results are discarded. A scheduled workflow is released from the
// scheduled set without ever dispatching a step.
func (e *Engine) Cancel(id string) (bool, error) {
	wf, err := e.store.Get(id)
	if err != nil {
		return false, err
	}

	now := time.Now()
	wf.mu.Lock()
	switch wf.Status {
	case StatusRunning:
		wf.Status = StatusCancelled
		wf.CompletedAt = &now
		wf.CurrentStep = "cancelled"
		var started time.Time
		if wf.StartedAt != nil {
			started = *wf.StartedAt
		}
		wf.mu.Unlock()

		e.mu.Lock()
		if cancel, ok := e.cancels[id]; ok {
			cancel()
			delete(e.cancels, id)
		}
		e.mu.Unlock()

		e.store.FinishRun(wf, StatusCancelled, started, now)
		e.emit(wf, "cancelled", "")
		e.afterTerminal(wf)
		e.logger.Info("workflow cancelled", zap.String("workflow", id))
		return true, nil

	case StatusScheduled:
		wf.Status = StatusCancelled
		wf.mu.Unlock()

		e.store.RemoveScheduled(id)
		e.emit(wf, "cancelled", "")
		e.logger.Info("scheduled workflow cancelled", zap.String("workflow", id))
		return true, nil

	default:
		wf.mu.Unlock()
		return false, nil
	}
}

// Status returns a read-only snapshot; it never blocks on the scheduling
// loop.
func (e *Engine) Status(id string) (Summary, error) {
	wf, err := e.store.Get(id)
	if err != nil {
		return Summary{}, err
	}
	return wf.Snapshot(), nil
}

// emit publishes a lifecycle event, best effort.
func (e *Engine) emit(wf *Workflow, kind, stepID string) {
	if e.events == nil {
		return
	}
	sum := wf.Snapshot()
	evt := &Event{
		WorkflowID: sum.ID,
		Name:       sum.Name,
		Kind:       kind,
		Status:     sum.Status,
		StepID:     stepID,
		Progress:   sum.Progress,
		Timestamp:  time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.events.Publish(ctx, evt); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("workflow", wf.ID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// afterTerminal archives and announces a finished run, best effort.
func (e *Engine) afterTerminal(wf *Workflow) {
	if e.archive == nil && e.notifier == nil {
		return
	}
	sum := wf.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.archive != nil {
		if err := e.archive.SaveRun(ctx, sum); err != nil {
			e.logger.Warn("run archive failed",
				zap.String("workflow", wf.ID), zap.Error(err))
		}
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyTerminal(ctx, sum); err != nil {
			e.logger.Warn("terminal notification failed",
				zap.String("workflow", wf.ID), zap.Error(err))
		}
	}
}
