package executor

import (
	"fmt"

	"github.com/stepflow-io/stepflow/model"
)

// Handler runs one step attempt. Input is the step configuration's
// parameters resolved against the instance context; the returned delta is
// merged back into the context by the orchestrator.
type Handler interface {
	Execute(step model.Step, input map[string]any) (map[string]any, error)
}

// Registry maps step types to their handlers. Gateway and Timer steps are
// resolved by the orchestrator itself and never reach a handler.
type Registry struct {
	handlers map[model.StepType]Handler
}

func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[model.StepType]Handler),
	}
	r.Register(model.STEP_TYPE_SCRIPT, NewScriptHandler())
	r.Register(model.STEP_TYPE_SERVICE_CALL, NewServiceCallHandler())
	r.Register(model.STEP_TYPE_AUTOMATED, NewTaskHandler())
	return r
}

func (r *Registry) Register(stepType model.StepType, handler Handler) {
	r.handlers[stepType] = handler
}

func (r *Registry) Get(stepType model.StepType) (Handler, error) {
	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for step type %s", stepType)
	}
	return handler, nil
}
