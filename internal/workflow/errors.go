package workflow

import "fmt"

// ErrTemplateNotFound is returned when a template id doesn't exist in the catalog.
var ErrTemplateNotFound = fmt.Errorf("template not found")

// ErrNotFound is returned when a workflow id doesn't exist in the store.
var ErrNotFound = fmt.Errorf("workflow not found")

// ErrAlreadyRunning is returned on re-entrant execution of a running instance.
var ErrAlreadyRunning = fmt.Errorf("workflow already running")

// ErrFinished is returned when executing a workflow in a terminal state.
var ErrFinished = fmt.Errorf("workflow already finished")

// ErrUnknownStepFunction is returned when a step names a function absent
// from the registry.
var ErrUnknownStepFunction = fmt.Errorf("unknown step function")

// ErrDependencyDeadlock is raised when the scheduling loop starves: either
// the dependency graph has a cycle or a step references an id that doesn't
// exist in the workflow.
var ErrDependencyDeadlock = fmt.Errorf("dependency deadlock")

// ErrStepTimeout is raised when a step attempt exceeds its deadline.
var ErrStepTimeout = fmt.Errorf("step timeout")

// ErrStepExecution wraps a failure returned by the step function itself.
var ErrStepExecution = fmt.Errorf("step execution failed")

// StepError attributes a failure to a specific step. It unwraps to the
// underlying cause so errors.Is works against the sentinels above.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
