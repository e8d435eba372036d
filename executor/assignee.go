package executor

import (
	"fmt"

	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/util"
)

// AssigneeResolver picks the assignee for a human-task execution. Real
// deployments plug a role-resolution service in here.
type AssigneeResolver interface {
	Resolve(step model.Step, context map[string]any) (string, error)
}

var _ AssigneeResolver = new(configAssigneeResolver)

// configAssigneeResolver reads the assignee from the step config's
// "assignee" key, after {$.path} resolution against the context.
type configAssigneeResolver struct{}

func NewConfigAssigneeResolver() *configAssigneeResolver {
	return &configAssigneeResolver{}
}

func (r *configAssigneeResolver) Resolve(step model.Step, context map[string]any) (string, error) {
	assignee, ok := step.Config["assignee"].(string)
	if !ok || len(assignee) == 0 {
		return "", fmt.Errorf("step %s has no assignee configured", step.Name)
	}
	resolved := util.ResolveInputParams(context, map[string]any{"assignee": assignee})
	if value, ok := resolved["assignee"].(string); ok && len(value) > 0 {
		return value, nil
	}
	return "", fmt.Errorf("step %s assignee %q did not resolve", step.Name, assignee)
}
