package graph

import (
	"fmt"

	"github.com/stepflow-io/stepflow/evaluator"
	"github.com/stepflow-io/stepflow/model"
)

// Resolver answers sequencing queries over a definition's step graph. It is
// pure planning: it never reads or writes instance or execution state.
type Resolver struct {
	evaluator evaluator.Evaluator
}

func NewResolver(evaluator evaluator.Evaluator) *Resolver {
	return &Resolver{evaluator: evaluator}
}

// FirstStep returns the step with minimal order, ties broken by name, or
// nil for a definition without steps.
func (r *Resolver) FirstStep(def *model.Definition) *model.Step {
	var first *model.Step
	for i := range def.Steps {
		step := &def.Steps[i]
		if first == nil {
			first = step
			continue
		}
		if step.Order < first.Order || (step.Order == first.Order && step.Name < first.Name) {
			first = step
		}
	}
	return first
}

// NextSteps evaluates each successor's condition against the context and
// returns the eligible ones in declared successor order. A successor
// without a condition is always eligible. Evaluation failures surface as
// a ResolutionError.
func (r *Resolver) NextSteps(def *model.Definition, step *model.Step, context map[string]any) ([]*model.Step, error) {
	var next []*model.Step
	for _, succName := range step.Successors {
		succ := def.Step(succName)
		if succ == nil {
			return nil, model.ResolutionError{Step: step.Name, Cause: fmt.Errorf("successor %s not found in definition %s", succName, def.Name)}
		}
		condition, conditioned := step.Conditions[succName]
		if !conditioned {
			next = append(next, succ)
			continue
		}
		eligible, err := r.evaluator.Evaluate(condition, context)
		if err != nil {
			return nil, model.ResolutionError{Step: step.Name, Cause: err}
		}
		if eligible {
			next = append(next, succ)
		}
	}
	return next, nil
}

// IsTerminal reports whether the step declares no successors at all.
func (r *Resolver) IsTerminal(step *model.Step) bool {
	return len(step.Successors) == 0
}
