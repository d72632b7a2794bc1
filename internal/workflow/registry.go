package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StepFunc is an opaque asynchronous unit of work. It receives a read-only
// view of the owning workflow and the step definition, and must honor ctx:
// functions that ignore cancellation keep running after the workflow is
// marked failed or cancelled.
type StepFunc func(ctx context.Context, wf View, step *Step) (any, error)

// Registry maps step-function names to implementations. It is populated
// once at startup and read-only thereafter, so concurrent resolution
// requires no locking.
type Registry struct {
	fns    map[string]StepFunc
	logger *zap.Logger
}

// NewRegistry creates an empty step-function registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		fns:    make(map[string]StepFunc),
		logger: logger,
	}
}

// Register binds a name to a step function. Re-registering a name replaces
// the previous binding.
func (r *Registry) Register(name string, fn StepFunc) {
	if _, ok := r.fns[name]; ok {
		r.logger.Warn("step function re-registered", zap.String("function", name))
	}
	r.fns[name] = fn
}

// Resolve looks up a step function by name.
func (r *Registry) Resolve(name string) (StepFunc, error) {
	fn, ok := r.fns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepFunction, name)
	}
	return fn, nil
}

// Has reports whether a function name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.fns[name]
	return ok
}

// Names returns all registered function names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	return names
}
