package flow

import (
	"testing"
	"time"

	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/util"
	"github.com/stretchr/testify/require"
)

func TestAssignmentLifecycle(t *testing.T) {
	clock := util.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	execution := &model.Execution{Id: "exec-1", InstanceId: "inst-1"}

	for scenario, fn := range map[string]func(t *testing.T, assignment *model.Assignment){
		"test new assignment": func(t *testing.T, assignment *model.Assignment) {
			require.Equal(t, "exec-1", assignment.ExecutionId)
			require.Equal(t, "inst-1", assignment.InstanceId)
			require.Equal(t, model.ASSIGNMENT_ASSIGNED, assignment.Status)
			require.Equal(t, "reviewer", assignment.Assignee)
		},
		"test acknowledge then complete": func(t *testing.T, assignment *model.Assignment) {
			require.NoError(t, TransitionAssignment(assignment, model.ASSIGNMENT_IN_PROGRESS, clock))
			require.Nil(t, assignment.CompletedAt)
			require.NoError(t, TransitionAssignment(assignment, model.ASSIGNMENT_COMPLETED, clock))
			require.NotNil(t, assignment.CompletedAt)
		},
		"test reject from assigned": func(t *testing.T, assignment *model.Assignment) {
			require.NoError(t, TransitionAssignment(assignment, model.ASSIGNMENT_REJECTED, clock))
			require.True(t, assignment.Status.Terminal())
		},
		"test terminal can not move": func(t *testing.T, assignment *model.Assignment) {
			require.NoError(t, TransitionAssignment(assignment, model.ASSIGNMENT_DELEGATED, clock))
			err := TransitionAssignment(assignment, model.ASSIGNMENT_IN_PROGRESS, clock)
			require.Error(t, err)
			_, ok := err.(model.InvalidTransitionError)
			require.True(t, ok)
		},
		"test cancel from in progress": func(t *testing.T, assignment *model.Assignment) {
			require.NoError(t, TransitionAssignment(assignment, model.ASSIGNMENT_IN_PROGRESS, clock))
			require.NoError(t, TransitionAssignment(assignment, model.ASSIGNMENT_CANCELLED, clock))
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewAssignment(execution, "reviewer", clock))
		})
	}
}
