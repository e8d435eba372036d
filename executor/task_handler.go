package executor

import (
	"fmt"
	"sync"

	"github.com/stepflow-io/stepflow/model"
)

// TaskFunc is an application-registered function behind an automated step.
type TaskFunc func(input map[string]any) (map[string]any, error)

var _ Handler = new(taskHandler)

// taskHandler dispatches automated steps to named task functions. The task
// name comes from the step config's "task" key.
type taskHandler struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

func NewTaskHandler() *taskHandler {
	return &taskHandler{
		tasks: make(map[string]TaskFunc),
	}
}

func (h *taskHandler) RegisterTask(name string, fn TaskFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks[name] = fn
}

func (h *taskHandler) Execute(step model.Step, input map[string]any) (map[string]any, error) {
	name, ok := step.Config["task"].(string)
	if !ok || len(name) == 0 {
		return nil, fmt.Errorf("step %s has no task configured", step.Name)
	}
	h.mu.RLock()
	fn, ok := h.tasks[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no task registered with name %s", name)
	}
	return fn(input)
}
