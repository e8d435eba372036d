package flow

import (
	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/util"
)

var executionTransitions = map[model.ExecutionStatus]map[model.ExecutionStatus]bool{
	model.EXECUTION_PENDING: {
		model.EXECUTION_RUNNING:   true,
		model.EXECUTION_COMPLETED: true,
		model.EXECUTION_SKIPPED:   true,
		model.EXECUTION_CANCELLED: true,
	},
	model.EXECUTION_RUNNING: {
		model.EXECUTION_COMPLETED: true,
		model.EXECUTION_FAILED:    true,
		model.EXECUTION_SKIPPED:   true,
		model.EXECUTION_CANCELLED: true,
	},
}

func CanTransitionExecution(from, to model.ExecutionStatus) bool {
	return executionTransitions[from][to]
}

// NewExecution creates a pending execution for one step attempt. Retries
// create a fresh row with a higher attempt; a terminal row is never reused.
func NewExecution(instance *model.Instance, step *model.Step, input map[string]any, attempt int, clock util.Clock) *model.Execution {
	return &model.Execution{
		Id:         uuid.New().String(),
		InstanceId: instance.Id,
		StepName:   step.Name,
		StepType:   step.Type,
		Status:     model.EXECUTION_PENDING,
		Attempt:    attempt,
		InputData:  input,
		StartedAt:  clock.Now(),
	}
}

func TransitionExecution(execution *model.Execution, to model.ExecutionStatus, clock util.Clock) error {
	if !CanTransitionExecution(execution.Status, to) {
		return model.InvalidTransitionError{
			Entity: "execution",
			From:   string(execution.Status),
			To:     string(to),
		}
	}
	execution.Status = to
	if to.Terminal() {
		now := clock.Now()
		execution.CompletedAt = &now
	}
	return nil
}

func CompleteExecution(execution *model.Execution, output map[string]any, executedBy string, clock util.Clock) error {
	if err := TransitionExecution(execution, model.EXECUTION_COMPLETED, clock); err != nil {
		return err
	}
	execution.OutputData = output
	execution.ExecutedBy = executedBy
	return nil
}

func FailExecution(execution *model.Execution, errorMessage string, clock util.Clock) error {
	if err := TransitionExecution(execution, model.EXECUTION_FAILED, clock); err != nil {
		return err
	}
	execution.ErrorMessage = errorMessage
	return nil
}

// ActiveExecutions filters the non-terminal executions of an instance.
func ActiveExecutions(executions []*model.Execution) []*model.Execution {
	var active []*model.Execution
	for _, execution := range executions {
		if !execution.Status.Terminal() {
			active = append(active, execution)
		}
	}
	return active
}
