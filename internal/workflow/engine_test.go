package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, poolSize int) (*Engine, *Registry, *Store) {
	t.Helper()
	logger := zap.NewNop()
	registry := NewRegistry(logger)
	store := NewStore(logger)
	engine := NewEngine(registry, store, poolSize, logger)
	return engine, registry, store
}

func newTestWorkflow(steps ...*Step) *Workflow {
	return &Workflow{
		ID:        "wf-" + fmt.Sprintf("%d", time.Now().UnixNano()),
		Name:      "test workflow",
		Type:      TypeOceanographicMonitoring,
		Status:    StatusCreated,
		Priority:  PriorityNormal,
		CreatedBy: "tester",
		CreatedAt: time.Now(),
		Steps:     steps,
		Outputs:   make(map[string]any),
	}
}

func okStep(id string, deps ...string) *Step {
	return &Step{
		ID:           id,
		Name:         id,
		Function:     "ok",
		Dependencies: deps,
		Timeout:      5 * time.Second,
	}
}

// waitTerminal polls until the workflow reaches a terminal state.
func waitTerminal(t *testing.T, e *Engine, id string) Summary {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		sum, err := e.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if sum.Status.Terminal() {
			return sum
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s did not finish; status %q", id, sum.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLinearChainCompletes(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	var order []string
	var mu sync.Mutex
	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		mu.Lock()
		order = append(order, step.ID)
		mu.Unlock()
		return map[string]any{"step": step.ID}, nil
	})

	wf := newTestWorkflow(okStep("a"), okStep("b"), okStep("c", "a", "b"))
	store.Add(wf)

	receipt, err := engine.Execute(wf.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.WorkflowID != wf.ID {
		t.Errorf("receipt for wrong workflow: %q", receipt.WorkflowID)
	}

	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (errors: %v)", sum.Status, sum.ErrorLog)
	}
	if sum.Progress != 100 {
		t.Errorf("expected progress 100, got %.1f", sum.Progress)
	}
	if len(sum.OutputKeys) != 3 {
		t.Errorf("expected 3 outputs, got %v", sum.OutputKeys)
	}

	mu.Lock()
	defer mu.Unlock()
	if order[len(order)-1] != "c" {
		t.Errorf("expected c to run last, got order %v", order)
	}
}

func TestDiamondDependencyOrdering(t *testing.T) {
	// a fans out to b and c, d joins them. d must wait for both branches
	// no matter which one settles first.
	for _, slow := range []string{"b", "c"} {
		t.Run("slow_"+slow, func(t *testing.T) {
			engine, registry, store := newTestEngine(t, 4)

			var bDone, cDone, violated atomic.Bool
			registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
				if step.ID == slow {
					time.Sleep(50 * time.Millisecond)
				}
				switch step.ID {
				case "b":
					bDone.Store(true)
				case "c":
					cDone.Store(true)
				case "d":
					if !bDone.Load() || !cDone.Load() {
						violated.Store(true)
					}
				}
				return step.ID, nil
			})

			wf := newTestWorkflow(
				okStep("a"),
				okStep("b", "a"),
				okStep("c", "a"),
				okStep("d", "b", "c"),
			)
			store.Add(wf)

			if _, err := engine.Execute(wf.ID); err != nil {
				t.Fatalf("execute: %v", err)
			}
			sum := waitTerminal(t, engine, wf.ID)
			if sum.Status != StatusCompleted {
				t.Fatalf("expected completed, got %q (errors: %v)", sum.Status, sum.ErrorLog)
			}
			if violated.Load() {
				t.Error("join step dispatched before both branches settled")
			}
			if len(sum.OutputKeys) != 4 {
				t.Errorf("expected 4 outputs, got %v", sum.OutputKeys)
			}
		})
	}
}

func TestDependencyCycleFails(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	var invoked atomic.Int32
	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		invoked.Add(1)
		return nil, nil
	})

	wf := newTestWorkflow(okStep("a", "b"), okStep("b", "a"))
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", sum.Status)
	}
	if invoked.Load() != 0 {
		t.Errorf("expected no step to run in a cycle, got %d invocations", invoked.Load())
	}
	if len(sum.ErrorLog) == 0 || !strings.Contains(sum.ErrorLog[len(sum.ErrorLog)-1], "dependency deadlock") {
		t.Errorf("expected deadlock error in log, got %v", sum.ErrorLog)
	}
}

func TestDanglingDependencyFails(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)
	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		return nil, nil
	})

	wf := newTestWorkflow(okStep("a"), okStep("b", "ghost"))
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", sum.Status)
	}
}

func TestOptionalStepFailureTolerated(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		return "fine", nil
	})
	registry.Register("boom", func(ctx context.Context, wf View, step *Step) (any, error) {
		return nil, errors.New("sensor offline")
	})

	flaky := &Step{ID: "b", Name: "b", Function: "boom", Optional: true, Timeout: time.Second}
	wf := newTestWorkflow(okStep("a"), flaky, okStep("c", "a", "b"))
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusCompleted {
		t.Fatalf("expected completed despite optional failure, got %q", sum.Status)
	}
	if sum.ErrorCount == 0 {
		t.Error("expected the optional failure in the error log")
	}
	// The failed optional step leaves no output, its dependents still ran.
	keys := make(map[string]bool)
	for _, k := range sum.OutputKeys {
		keys[k] = true
	}
	if keys["b"] {
		t.Error("failed optional step should have no output")
	}
	if !keys["c"] {
		t.Error("dependent of failed optional step should have run")
	}
}

func TestRequiredStepFailureFatal(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	var downstream atomic.Int32
	registry.Register("boom", func(ctx context.Context, wf View, step *Step) (any, error) {
		return nil, errors.New("no data")
	})
	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		downstream.Add(1)
		return nil, nil
	})

	bad := &Step{ID: "a", Name: "a", Function: "boom", Timeout: time.Second}
	wf := newTestWorkflow(bad, okStep("b", "a"))
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", sum.Status)
	}
	if downstream.Load() != 0 {
		t.Error("dependent of failed required step must not run")
	}
	if sum.ErrorCount < 2 {
		// Step failure plus the workflow-level failure entry.
		t.Errorf("expected step and workflow errors, got %v", sum.ErrorLog)
	}
}

func TestStepTimeout(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	registry.Register("slow", func(ctx context.Context, wf View, step *Step) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	slow := &Step{ID: "a", Name: "a", Function: "slow", Timeout: 50 * time.Millisecond}
	wf := newTestWorkflow(slow)
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", sum.Status)
	}
	found := false
	for _, e := range sum.ErrorLog {
		if strings.Contains(e, "step timeout") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected timeout error in log, got %v", sum.ErrorLog)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	var attempts atomic.Int32
	registry.Register("flaky", func(ctx context.Context, wf View, step *Step) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	})

	step := &Step{ID: "a", Name: "a", Function: "flaky", RetryLimit: 3, Timeout: time.Second}
	wf := newTestWorkflow(step)
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusCompleted {
		t.Fatalf("expected completed after retries, got %q (errors: %v)", sum.Status, sum.ErrorLog)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	var attempts atomic.Int32
	registry.Register("broken", func(ctx context.Context, wf View, step *Step) (any, error) {
		attempts.Add(1)
		return nil, errors.New("permanent")
	})

	step := &Step{ID: "a", Name: "a", Function: "broken", RetryLimit: 2, Timeout: time.Second}
	wf := newTestWorkflow(step)
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", sum.Status)
	}
	// Initial attempt plus two retries.
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestUnknownStepFunctionFails(t *testing.T) {
	engine, _, store := newTestEngine(t, 4)

	step := &Step{ID: "a", Name: "a", Function: "nonexistent", Timeout: time.Second}
	wf := newTestWorkflow(step)
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", sum.Status)
	}
	if len(sum.ErrorLog) == 0 || !strings.Contains(sum.ErrorLog[0], "unknown step function") {
		t.Errorf("expected unknown-function error, got %v", sum.ErrorLog)
	}
}

func TestExecuteReentrant(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	release := make(chan struct{})
	registry.Register("gated", func(ctx context.Context, wf View, step *Step) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	step := &Step{ID: "a", Name: "a", Function: "gated", Timeout: 10 * time.Second}
	wf := newTestWorkflow(step)
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := engine.Execute(wf.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	close(release)

	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", sum.Status)
	}
	// Terminal workflows cannot be re-executed.
	if _, err := engine.Execute(wf.ID); !errors.Is(err, ErrFinished) {
		t.Errorf("expected ErrFinished, got %v", err)
	}
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	engine, _, _ := newTestEngine(t, 4)
	if _, err := engine.Execute("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelRunningWorkflow(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	registry.Register("hang", func(ctx context.Context, wf View, step *Step) (any, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	// Ignores cancellation on purpose; its result arrives after the
	// workflow is already finalized.
	registry.Register("stubborn", func(ctx context.Context, wf View, step *Step) (any, error) {
		<-release
		return "late", nil
	})

	wf := newTestWorkflow(
		&Step{ID: "a", Name: "a", Function: "hang", Timeout: 10 * time.Second},
		&Step{ID: "b", Name: "b", Function: "stubborn", Timeout: 10 * time.Second},
	)
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	<-started

	cancelled, err := engine.Cancel(wf.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancel to succeed")
	}

	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", sum.Status)
	}

	// Let the cancelled step's error and the stubborn step's late success
	// reach the settlement loop, then verify neither touched the workflow.
	close(release)
	time.Sleep(200 * time.Millisecond)

	sum, err = engine.Status(wf.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if sum.Status != StatusCancelled {
		t.Fatalf("terminal state changed after cancel: %q", sum.Status)
	}
	if sum.ErrorCount != 0 {
		t.Errorf("error log grew after cancellation: %v", sum.ErrorLog)
	}
	if len(sum.OutputKeys) != 0 {
		t.Errorf("cancelled run must discard results, got outputs %v", sum.OutputKeys)
	}
	if sum.Progress != 0 {
		t.Errorf("progress advanced after cancellation: %.1f", sum.Progress)
	}
	if sum.CurrentStep != "cancelled" {
		t.Errorf("current step rewritten after cancellation: %q", sum.CurrentStep)
	}

	// Cancelling an already-terminal workflow is a no-op.
	cancelled, err = engine.Cancel(wf.ID)
	if err != nil || cancelled {
		t.Errorf("expected no-op cancel, got %v %v", cancelled, err)
	}
}

func TestEmptyWorkflowCompletes(t *testing.T) {
	engine, _, store := newTestEngine(t, 4)

	wf := newTestWorkflow()
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sum := waitTerminal(t, engine, wf.ID)
	if sum.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", sum.Status)
	}
	if sum.Progress != 100 {
		t.Errorf("expected progress 100, got %.1f", sum.Progress)
	}
}

func TestProgressReservesHundred(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	release := make(chan struct{})
	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		return nil, nil
	})
	registry.Register("gated", func(ctx context.Context, wf View, step *Step) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	gated := &Step{ID: "b", Name: "b", Function: "gated", Dependencies: []string{"a"}, Timeout: 10 * time.Second}
	wf := newTestWorkflow(okStep("a"), gated)
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// After the first step settles, progress reads 50 while still running.
	deadline := time.Now().Add(5 * time.Second)
	for {
		sum, _ := engine.Status(wf.ID)
		if sum.Progress >= 50 {
			if sum.Progress >= 100 {
				t.Fatalf("progress hit 100 before completion: %.1f", sum.Progress)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first step never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	sum := waitTerminal(t, engine, wf.ID)
	if sum.Progress != 100 {
		t.Errorf("expected final progress 100, got %.1f", sum.Progress)
	}
}

func TestMetricsAfterRuns(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		return nil, nil
	})
	registry.Register("boom", func(ctx context.Context, wf View, step *Step) (any, error) {
		return nil, errors.New("nope")
	})

	good := newTestWorkflow(okStep("a"))
	bad := newTestWorkflow(&Step{ID: "a", Name: "a", Function: "boom", Timeout: time.Second})
	store.Add(good)
	store.Add(bad)

	if _, err := engine.Execute(good.ID); err != nil {
		t.Fatalf("execute good: %v", err)
	}
	if _, err := engine.Execute(bad.ID); err != nil {
		t.Fatalf("execute bad: %v", err)
	}
	waitTerminal(t, engine, good.ID)
	waitTerminal(t, engine, bad.ID)

	m := store.SnapshotMetrics()
	if m.Total != 2 || m.Succeeded != 1 || m.Failed != 1 || m.Active != 0 {
		t.Errorf("unexpected metrics: %+v", m)
	}
	if len(store.ListCompleted()) != 2 {
		t.Errorf("expected 2 completed workflows, got %d", len(store.ListCompleted()))
	}
}

// fakeSink collects published events in memory.
type fakeSink struct {
	mu     sync.Mutex
	events []*Event
}

func (f *fakeSink) Publish(ctx context.Context, e *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Kind
	}
	return out
}

type fakeArchive struct {
	mu   sync.Mutex
	runs []Summary
}

func (f *fakeArchive) SaveRun(ctx context.Context, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, s)
	return nil
}

func TestLifecycleEventsAndArchive(t *testing.T) {
	engine, registry, store := newTestEngine(t, 4)

	sink := &fakeSink{}
	archive := &fakeArchive{}
	engine.SetEvents(sink)
	engine.SetArchive(archive)

	registry.Register("ok", func(ctx context.Context, wf View, step *Step) (any, error) {
		return nil, nil
	})

	wf := newTestWorkflow(okStep("a"), okStep("b", "a"))
	store.Add(wf)

	if _, err := engine.Execute(wf.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitTerminal(t, engine, wf.ID)

	// afterTerminal runs synchronously inside finish; give emit no slack.
	kinds := sink.kinds()
	if len(kinds) < 4 {
		t.Fatalf("expected started + 2 step events + completed, got %v", kinds)
	}
	if kinds[0] != "started" || kinds[len(kinds)-1] != "completed" {
		t.Errorf("unexpected event ordering: %v", kinds)
	}

	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.runs) != 1 {
		t.Fatalf("expected 1 archived run, got %d", len(archive.runs))
	}
	if archive.runs[0].Status != StatusCompleted {
		t.Errorf("archived run has status %q", archive.runs[0].Status)
	}
}
