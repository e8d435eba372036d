package graph

import (
	"fmt"

	"github.com/stepflow-io/stepflow/evaluator"
	"github.com/stepflow-io/stepflow/model"
)

// Validate checks a definition's structural well-formedness. It runs at
// creation and activation time so advancement never meets a malformed
// graph: duplicate step names, unknown types, dangling successors,
// conditions keyed to non-successors, uncompilable condition expressions
// and cycles reachable through unconditioned edges only are all rejected.
func Validate(def *model.Definition) error {
	if len(def.Name) == 0 {
		return model.ValidationError{Message: "definition name can not be empty"}
	}
	if len(def.Steps) == 0 {
		return model.ValidationError{Message: "definition has no steps"}
	}
	names := make(map[string]*model.Step, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if len(step.Name) == 0 {
			return model.ValidationError{Message: "step name can not be empty"}
		}
		if _, ok := names[step.Name]; ok {
			return model.ValidationError{Message: fmt.Sprintf("step name %s is duplicate", step.Name)}
		}
		if !model.ValidStepType(string(step.Type)) {
			return model.ValidationError{Message: fmt.Sprintf("step %s has unknown type %s", step.Name, step.Type)}
		}
		names[step.Name] = step
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		seen := make(map[string]bool, len(step.Successors))
		for _, succ := range step.Successors {
			if _, ok := names[succ]; !ok {
				return model.ValidationError{Message: fmt.Sprintf("step %s references missing successor %s", step.Name, succ)}
			}
			if seen[succ] {
				return model.ValidationError{Message: fmt.Sprintf("step %s lists successor %s twice", step.Name, succ)}
			}
			seen[succ] = true
		}
		for succ, condition := range step.Conditions {
			if !seen[succ] {
				return model.ValidationError{Message: fmt.Sprintf("step %s has a condition for %s which is not a successor", step.Name, succ)}
			}
			if err := evaluator.Compile(condition); err != nil {
				return model.ValidationError{Message: fmt.Sprintf("step %s condition for %s does not compile: %v", step.Name, succ, err)}
			}
		}
	}
	if cycle := findUnconditionedCycle(def); cycle != "" {
		return model.ValidationError{Message: fmt.Sprintf("unconditioned cycle through step %s", cycle)}
	}
	return nil
}

// findUnconditionedCycle walks only edges without conditions; a cycle over
// such edges can never exit and would loop an instance forever.
func findUnconditionedCycle(def *model.Definition) string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(def.Steps))
	var visit func(step *model.Step) string
	visit = func(step *model.Step) string {
		color[step.Name] = grey
		for _, succName := range step.Successors {
			if _, conditioned := step.Conditions[succName]; conditioned {
				continue
			}
			switch color[succName] {
			case grey:
				return succName
			case white:
				if c := visit(def.Step(succName)); c != "" {
					return c
				}
			}
		}
		color[step.Name] = black
		return ""
	}
	for i := range def.Steps {
		if color[def.Steps[i].Name] == white {
			if c := visit(&def.Steps[i]); c != "" {
				return c
			}
		}
	}
	return ""
}
