package flow

import (
	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/util"
)

var assignmentTransitions = map[model.AssignmentStatus]map[model.AssignmentStatus]bool{
	model.ASSIGNMENT_ASSIGNED: {
		model.ASSIGNMENT_IN_PROGRESS: true,
		model.ASSIGNMENT_COMPLETED:   true,
		model.ASSIGNMENT_REJECTED:    true,
		model.ASSIGNMENT_DELEGATED:   true,
		model.ASSIGNMENT_CANCELLED:   true,
	},
	model.ASSIGNMENT_IN_PROGRESS: {
		model.ASSIGNMENT_COMPLETED: true,
		model.ASSIGNMENT_REJECTED:  true,
		model.ASSIGNMENT_DELEGATED: true,
		model.ASSIGNMENT_CANCELLED: true,
	},
}

func CanTransitionAssignment(from, to model.AssignmentStatus) bool {
	return assignmentTransitions[from][to]
}

func NewAssignment(execution *model.Execution, assignee string, clock util.Clock) *model.Assignment {
	return &model.Assignment{
		Id:          uuid.New().String(),
		ExecutionId: execution.Id,
		InstanceId:  execution.InstanceId,
		Assignee:    assignee,
		Status:      model.ASSIGNMENT_ASSIGNED,
		AssignedAt:  clock.Now(),
	}
}

func TransitionAssignment(assignment *model.Assignment, to model.AssignmentStatus, clock util.Clock) error {
	if !CanTransitionAssignment(assignment.Status, to) {
		return model.InvalidTransitionError{
			Entity: "assignment",
			From:   string(assignment.Status),
			To:     string(to),
		}
	}
	assignment.Status = to
	if to.Terminal() {
		now := clock.Now()
		assignment.CompletedAt = &now
	}
	return nil
}
