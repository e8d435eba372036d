package engine

import (
	"errors"

	"github.com/stepflow-io/stepflow/flow"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"go.uber.org/zap"
)

// Human-task operations. Each one resolves the assignment to its instance,
// takes the instance lock and applies the assignment transition together
// with its consequences for the execution and the instance.

// AcknowledgeAssignment moves an assignment to in-progress.
func (e *Engine) AcknowledgeAssignment(assignmentId string) error {
	assignment, err := e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	unlock, err := e.storage.Instances().Lock(assignment.InstanceId)
	if err != nil {
		return err
	}
	defer unlock()
	if err := e.requireRunning(assignment.InstanceId); err != nil {
		return err
	}
	assignment, err = e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	if err := flow.TransitionAssignment(assignment, model.ASSIGNMENT_IN_PROGRESS, e.clock); err != nil {
		return err
	}
	return e.storage.Assignments().Save(assignment)
}

// requireRunning rejects assignment operations against a suspended or
// terminal instance; the lock must already be held.
func (e *Engine) requireRunning(instanceId string) error {
	instance, err := e.storage.Instances().Get(instanceId)
	if err != nil {
		return err
	}
	if instance.Status != model.INSTANCE_RUNNING {
		return model.InvalidTransitionError{Entity: "instance", From: string(instance.Status), To: string(model.INSTANCE_RUNNING)}
	}
	return nil
}

// CompleteAssignment records the assignee's outcome, completes the backing
// execution and advances the instance. Completion against a suspended or
// terminal instance is rejected; the caller retries after resume.
func (e *Engine) CompleteAssignment(assignmentId string, comments string, output map[string]any) error {
	assignment, err := e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	unlock, err := e.storage.Instances().Lock(assignment.InstanceId)
	if err != nil {
		return err
	}
	defer unlock()
	instance, err := e.storage.Instances().Get(assignment.InstanceId)
	if err != nil {
		return err
	}
	if instance.Status != model.INSTANCE_RUNNING {
		return model.InvalidTransitionError{Entity: "instance", From: string(instance.Status), To: string(model.INSTANCE_RUNNING)}
	}
	assignment, err = e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	if err := flow.TransitionAssignment(assignment, model.ASSIGNMENT_COMPLETED, e.clock); err != nil {
		return err
	}
	assignment.Comments = comments
	assignment.Output = output
	if err := e.storage.Assignments().Save(assignment); err != nil {
		return err
	}
	execution, err := e.storage.Executions().Get(assignment.ExecutionId)
	if err != nil {
		return err
	}
	if err := flow.CompleteExecution(execution, output, assignment.Assignee, e.clock); err != nil {
		return err
	}
	if err := e.storage.Executions().Save(execution); err != nil {
		return err
	}
	def, err := e.definition(instance.DefinitionName, instance.DefinitionVersion)
	if err != nil {
		return err
	}
	logger.Info("human task completed", zap.String("instanceId", instance.Id), zap.String("step", execution.StepName), zap.String("assignee", assignment.Assignee))
	return e.advanceLocked(def, instance, execution)
}

// RejectAssignment closes the assignment as rejected and reassigns the
// task; if no new assignee can be resolved the execution attempt fails
// and the usual retry/error-path handling takes over.
func (e *Engine) RejectAssignment(assignmentId string, comments string) error {
	assignment, err := e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	unlock, err := e.storage.Instances().Lock(assignment.InstanceId)
	if err != nil {
		return err
	}
	defer unlock()
	instance, err := e.storage.Instances().Get(assignment.InstanceId)
	if err != nil {
		return err
	}
	if instance.Status != model.INSTANCE_RUNNING {
		return model.InvalidTransitionError{Entity: "instance", From: string(instance.Status), To: string(model.INSTANCE_RUNNING)}
	}
	assignment, err = e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	if err := flow.TransitionAssignment(assignment, model.ASSIGNMENT_REJECTED, e.clock); err != nil {
		return err
	}
	assignment.Comments = comments
	if err := e.storage.Assignments().Save(assignment); err != nil {
		return err
	}
	execution, err := e.storage.Executions().Get(assignment.ExecutionId)
	if err != nil {
		return err
	}
	def, err := e.definition(instance.DefinitionName, instance.DefinitionVersion)
	if err != nil {
		return err
	}
	step := def.Step(execution.StepName)
	if step == nil {
		return model.ResolutionError{Step: execution.StepName, Cause: errors.New("step not present in definition")}
	}
	assignee, err := e.assignees.Resolve(*step, instance.Context)
	if err != nil {
		return e.failAttemptLocked(def, instance, execution, err)
	}
	next := flow.NewAssignment(execution, assignee, e.clock)
	logger.Info("human task reassigned after rejection", zap.String("instanceId", instance.Id), zap.String("step", execution.StepName), zap.String("assignee", assignee))
	return e.storage.Assignments().Save(next)
}

// DelegateAssignment closes the current assignment as delegated and opens
// a new one for the named assignee.
func (e *Engine) DelegateAssignment(assignmentId string, newAssignee string, comments string) error {
	assignment, err := e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	unlock, err := e.storage.Instances().Lock(assignment.InstanceId)
	if err != nil {
		return err
	}
	defer unlock()
	if err := e.requireRunning(assignment.InstanceId); err != nil {
		return err
	}
	assignment, err = e.storage.Assignments().Get(assignmentId)
	if err != nil {
		return err
	}
	if err := flow.TransitionAssignment(assignment, model.ASSIGNMENT_DELEGATED, e.clock); err != nil {
		return err
	}
	assignment.Comments = comments
	if err := e.storage.Assignments().Save(assignment); err != nil {
		return err
	}
	execution, err := e.storage.Executions().Get(assignment.ExecutionId)
	if err != nil {
		return err
	}
	next := flow.NewAssignment(execution, newAssignee, e.clock)
	logger.Info("human task delegated", zap.String("instanceId", assignment.InstanceId), zap.String("assignee", newAssignee))
	return e.storage.Assignments().Save(next)
}
