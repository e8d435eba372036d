package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/cache"
	"github.com/stepflow-io/stepflow/executor"
	"github.com/stepflow-io/stepflow/flow"
	"github.com/stepflow-io/stepflow/graph"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
	"go.uber.org/zap"
)

// Engine is the orchestrator: the only component that mutates instance
// status. All mutation happens between Lock and release on the instance's
// storage record; handler invocation runs outside the lock and its result
// is committed under a re-acquired lock after re-validating state.
type Engine struct {
	storage   persistence.Storage
	resolver  *graph.Resolver
	registry  *executor.Registry
	assignees executor.AssigneeResolver
	defCache  *cache.DefinitionCache
	clock     util.Clock
	retryConf model.RetryConfig
	worker    *util.Worker
}

type handlerTask struct {
	instanceId  string
	executionId string
}

func New(storage persistence.Storage, resolver *graph.Resolver, registry *executor.Registry,
	assignees executor.AssigneeResolver, retryConf model.RetryConfig, clock util.Clock,
	capacity int, wg *sync.WaitGroup) *Engine {
	e := &Engine{
		storage:   storage,
		resolver:  resolver,
		registry:  registry,
		assignees: assignees,
		defCache:  cache.NewDefinitionCache(),
		clock:     clock,
		retryConf: retryConf,
	}
	e.worker = util.NewWorker("handler-worker", wg, e.handleTask, capacity)
	return e
}

func (e *Engine) Start() {
	e.worker.Start()
}

func (e *Engine) Stop() {
	e.worker.Stop()
}

// DefinitionCache exposes the read cache so the definition service can
// invalidate entries on status changes.
func (e *Engine) DefinitionCache() *cache.DefinitionCache {
	return e.defCache
}

// enqueueHandler hands an execution to the handler worker. Callers hold
// the instance lock and the worker commits results under that same lock,
// so a full channel must never block here.
func (e *Engine) enqueueHandler(instanceId string, executionId string) {
	task := handlerTask{instanceId: instanceId, executionId: executionId}
	select {
	case e.worker.Sender() <- task:
	default:
		go func() {
			e.worker.Sender() <- task
		}()
	}
}

func (e *Engine) handleTask(t util.Task) error {
	task, ok := t.(handlerTask)
	if !ok {
		return fmt.Errorf("unexpected task type %T", t)
	}
	e.runHandler(task.instanceId, task.executionId)
	return nil
}

func (e *Engine) definition(name string, version int) (*model.Definition, error) {
	if version <= 0 {
		return e.storage.Definitions().GetLatestActive(name)
	}
	if def, ok := e.defCache.Get(name, version); ok {
		return def, nil
	}
	def, err := e.storage.Definitions().GetByNameVersion(name, version)
	if err != nil {
		return nil, err
	}
	e.defCache.Put(def)
	return def, nil
}

// StartInstance validates the definition is active, pins the instance to
// that (name, version) and dispatches the first step. Version 0 picks the
// latest active version.
func (e *Engine) StartInstance(req model.InstanceRunRequest) (*model.Instance, error) {
	def, err := e.definition(req.DefinitionName, req.DefinitionVersion)
	if err != nil {
		return nil, err
	}
	if def.Status != model.DEFINITION_ACTIVE {
		return nil, model.DefinitionNotActiveError{Name: def.Name, Version: def.Version}
	}
	context := make(map[string]any, len(req.Input))
	for k, v := range req.Input {
		context[k] = v
	}
	instance := &model.Instance{
		Id:                uuid.New().String(),
		DefinitionName:    def.Name,
		DefinitionVersion: def.Version,
		Name:              req.Name,
		Status:            model.INSTANCE_RUNNING,
		Context:           context,
		StartedBy:         req.StartedBy,
		StartedAt:         e.clock.Now(),
	}
	first := e.resolver.FirstStep(def)
	if first == nil {
		// empty definitions are rejected at activation; kept for safety
		if err := flow.TransitionInstance(instance, model.INSTANCE_COMPLETED, e.clock); err != nil {
			return nil, err
		}
		return instance, e.storage.Instances().Save(instance)
	}
	instance.CurrentStep = first.Name
	if err := e.storage.Instances().Save(instance); err != nil {
		return nil, err
	}
	unlock, err := e.storage.Instances().Lock(instance.Id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	logger.Info("starting instance", zap.String("definition", def.Name), zap.Int("version", def.Version), zap.String("instanceId", instance.Id))
	if err := e.dispatchStepLocked(def, instance, first, 1); err != nil {
		return nil, err
	}
	return e.storage.Instances().Get(instance.Id)
}

// Advance completes an execution with the given output and moves the
// instance to its next step(s). A terminal execution cannot be advanced
// again, which is what keeps a racing double-completion from double
// creating successors.
func (e *Engine) Advance(instanceId string, executionId string, output map[string]any) error {
	unlock, err := e.storage.Instances().Lock(instanceId)
	if err != nil {
		return err
	}
	defer unlock()
	instance, err := e.storage.Instances().Get(instanceId)
	if err != nil {
		return err
	}
	if instance.Status != model.INSTANCE_RUNNING {
		return model.InvalidTransitionError{Entity: "instance", From: string(instance.Status), To: string(model.INSTANCE_RUNNING)}
	}
	execution, err := e.storage.Executions().Get(executionId)
	if err != nil {
		return err
	}
	// a human task may still carry an active assignment; close it so the
	// completed execution leaves no work dangling
	if execution.StepType == model.STEP_TYPE_HUMAN_TASK {
		assignment, err := e.storage.Assignments().GetActiveByExecution(execution.Id)
		if err == nil {
			if err := flow.TransitionAssignment(assignment, model.ASSIGNMENT_COMPLETED, e.clock); err != nil {
				return err
			}
			assignment.Output = output
			if err := e.storage.Assignments().Save(assignment); err != nil {
				return err
			}
		}
	}
	if err := flow.CompleteExecution(execution, output, execution.ExecutedBy, e.clock); err != nil {
		return err
	}
	if err := e.storage.Executions().Save(execution); err != nil {
		return err
	}
	def, err := e.definition(instance.DefinitionName, instance.DefinitionVersion)
	if err != nil {
		return err
	}
	return e.advanceLocked(def, instance, execution)
}

func (e *Engine) Suspend(instanceId string) error {
	unlock, err := e.storage.Instances().Lock(instanceId)
	if err != nil {
		return err
	}
	defer unlock()
	instance, err := e.storage.Instances().Get(instanceId)
	if err != nil {
		return err
	}
	if err := flow.TransitionInstance(instance, model.INSTANCE_SUSPENDED, e.clock); err != nil {
		return err
	}
	logger.Info("instance suspended", zap.String("instanceId", instanceId))
	return e.storage.Instances().Save(instance)
}

// Resume puts the instance back to running and re-drives its non-terminal
// executions: pending ones are dispatched again and running automated ones
// get their handler re-invoked, since any result that returned during the
// suspension was discarded.
func (e *Engine) Resume(instanceId string) error {
	unlock, err := e.storage.Instances().Lock(instanceId)
	if err != nil {
		return err
	}
	defer unlock()
	instance, err := e.storage.Instances().Get(instanceId)
	if err != nil {
		return err
	}
	if err := flow.TransitionInstance(instance, model.INSTANCE_RUNNING, e.clock); err != nil {
		return err
	}
	if err := e.storage.Instances().Save(instance); err != nil {
		return err
	}
	def, err := e.definition(instance.DefinitionName, instance.DefinitionVersion)
	if err != nil {
		return err
	}
	executions, err := e.storage.Executions().ListByInstance(instanceId)
	if err != nil {
		return err
	}
	logger.Info("instance resumed", zap.String("instanceId", instanceId))
	for _, execution := range flow.ActiveExecutions(executions) {
		switch execution.Status {
		case model.EXECUTION_PENDING:
			if err := e.dispatchPendingLocked(def, instance, execution); err != nil {
				return err
			}
		case model.EXECUTION_RUNNING:
			if execution.StepType != model.STEP_TYPE_HUMAN_TASK {
				e.enqueueHandler(instance.Id, execution.Id)
			}
		}
	}
	return nil
}

// Cancel marks the instance cancelled and cancels every in-flight
// execution and assignment so no active work is left orphaned. A handler
// result returning later is discarded at commit time.
func (e *Engine) Cancel(instanceId string) error {
	unlock, err := e.storage.Instances().Lock(instanceId)
	if err != nil {
		return err
	}
	defer unlock()
	instance, err := e.storage.Instances().Get(instanceId)
	if err != nil {
		return err
	}
	if err := flow.TransitionInstance(instance, model.INSTANCE_CANCELLED, e.clock); err != nil {
		return err
	}
	if err := e.storage.Instances().Save(instance); err != nil {
		return err
	}
	executions, err := e.storage.Executions().ListByInstance(instanceId)
	if err != nil {
		return err
	}
	for _, execution := range flow.ActiveExecutions(executions) {
		if err := flow.TransitionExecution(execution, model.EXECUTION_CANCELLED, e.clock); err != nil {
			continue
		}
		if err := e.storage.Executions().Save(execution); err != nil {
			return err
		}
		assignment, err := e.storage.Assignments().GetActiveByExecution(execution.Id)
		if err != nil {
			continue
		}
		if err := flow.TransitionAssignment(assignment, model.ASSIGNMENT_CANCELLED, e.clock); err != nil {
			continue
		}
		if err := e.storage.Assignments().Save(assignment); err != nil {
			return err
		}
	}
	logger.Info("instance cancelled", zap.String("instanceId", instanceId))
	return nil
}

// FireTimer is invoked by the timer manager when a scheduled entry comes
// due. Timer-step executions complete and advance; delayed retries get
// dispatched. A fire against a suspended instance re-schedules on resume
// through the pending re-dispatch.
func (e *Engine) FireTimer(instanceId string, executionId string) error {
	unlock, err := e.storage.Instances().Lock(instanceId)
	if err != nil {
		return err
	}
	defer unlock()
	instance, err := e.storage.Instances().Get(instanceId)
	if err != nil {
		return err
	}
	if instance.Status != model.INSTANCE_RUNNING {
		logger.Debug("discarding timer fire", zap.String("instanceId", instanceId), zap.String("status", string(instance.Status)))
		return nil
	}
	execution, err := e.storage.Executions().Get(executionId)
	if err != nil {
		return err
	}
	if execution.Status != model.EXECUTION_PENDING {
		return nil
	}
	def, err := e.definition(instance.DefinitionName, instance.DefinitionVersion)
	if err != nil {
		return err
	}
	if execution.StepType == model.STEP_TYPE_TIMER {
		if err := flow.CompleteExecution(execution, nil, "timer", e.clock); err != nil {
			return err
		}
		if err := e.storage.Executions().Save(execution); err != nil {
			return err
		}
		return e.advanceLocked(def, instance, execution)
	}
	return e.dispatchPendingLocked(def, instance, execution)
}

// runHandler executes a step handler outside the instance lock, then
// commits the result under the lock after re-validating that neither the
// instance nor the execution moved on in the meantime.
func (e *Engine) runHandler(instanceId string, executionId string) {
	execution, err := e.storage.Executions().Get(executionId)
	if err != nil {
		logger.Error("execution not found for handler run", zap.String("executionId", executionId), zap.Error(err))
		return
	}
	instance, err := e.storage.Instances().Get(instanceId)
	if err != nil {
		logger.Error("instance not found for handler run", zap.String("instanceId", instanceId), zap.Error(err))
		return
	}
	def, err := e.definition(instance.DefinitionName, instance.DefinitionVersion)
	if err != nil {
		logger.Error("definition not found for handler run", zap.String("instanceId", instanceId), zap.Error(err))
		return
	}
	step := def.Step(execution.StepName)
	if step == nil {
		logger.Error("step not found for handler run", zap.String("step", execution.StepName))
		return
	}
	handler, err := e.registry.Get(execution.StepType)
	var output map[string]any
	var herr error
	if err != nil {
		herr = err
	} else {
		output, herr = handler.Execute(*step, execution.InputData)
	}

	unlock, err := e.storage.Instances().Lock(instanceId)
	if err != nil {
		logger.Error("can not lock instance to commit handler result", zap.String("instanceId", instanceId), zap.Error(err))
		return
	}
	defer unlock()
	instance, err = e.storage.Instances().Get(instanceId)
	if err != nil {
		return
	}
	execution, err = e.storage.Executions().Get(executionId)
	if err != nil {
		return
	}
	if instance.Status != model.INSTANCE_RUNNING || execution.Status != model.EXECUTION_RUNNING {
		logger.Info("discarding handler result", zap.String("instanceId", instanceId),
			zap.String("executionId", executionId), zap.String("instanceStatus", string(instance.Status)),
			zap.String("executionStatus", string(execution.Status)))
		return
	}
	if herr != nil {
		if err := e.failAttemptLocked(def, instance, execution, herr); err != nil {
			logger.Error("error handling step failure", zap.String("instanceId", instanceId), zap.Error(err))
		}
		return
	}
	if err := flow.CompleteExecution(execution, output, "system", e.clock); err != nil {
		return
	}
	if err := e.storage.Executions().Save(execution); err != nil {
		logger.Error("error saving execution", zap.String("executionId", executionId), zap.Error(err))
		return
	}
	if err := e.advanceLocked(def, instance, execution); err != nil {
		logger.Error("error advancing instance", zap.String("instanceId", instanceId), zap.Error(err))
	}
}

// advanceLocked moves the instance past a completed execution: merge the
// output into context, resolve successors and either dispatch them or
// settle the instance's fate. Lock must be held.
func (e *Engine) advanceLocked(def *model.Definition, instance *model.Instance, execution *model.Execution) error {
	if len(execution.OutputData) > 0 {
		if instance.Context == nil {
			instance.Context = make(map[string]any)
		}
		for k, v := range execution.OutputData {
			instance.Context[k] = v
		}
	}
	step := def.Step(execution.StepName)
	if step == nil {
		return model.ResolutionError{Step: execution.StepName, Cause: fmt.Errorf("step not in definition %s", def.Name)}
	}
	next, err := e.resolver.NextSteps(def, step, instance.Context)
	if err != nil {
		execution.ErrorMessage = err.Error()
		if serr := e.storage.Executions().Save(execution); serr != nil {
			return serr
		}
		logger.Error("successor resolution failed", zap.String("instanceId", instance.Id), zap.String("step", step.Name), zap.Error(err))
		if terr := flow.TransitionInstance(instance, model.INSTANCE_FAILED, e.clock); terr != nil {
			return terr
		}
		return e.storage.Instances().Save(instance)
	}
	if len(next) == 0 {
		if e.resolver.IsTerminal(step) {
			executions, err := e.storage.Executions().ListByInstance(instance.Id)
			if err != nil {
				return err
			}
			if len(flow.ActiveExecutions(executions)) == 0 {
				if err := flow.TransitionInstance(instance, model.INSTANCE_COMPLETED, e.clock); err != nil {
					return err
				}
				logger.Info("instance completed", zap.String("instanceId", instance.Id))
			}
			return e.storage.Instances().Save(instance)
		}
		// successors declared but none eligible: dead end, not a finish
		logger.Error("no eligible successor", zap.String("instanceId", instance.Id), zap.String("step", step.Name))
		if err := flow.TransitionInstance(instance, model.INSTANCE_FAILED, e.clock); err != nil {
			return err
		}
		return e.storage.Instances().Save(instance)
	}
	for _, succ := range next {
		if err := e.dispatchStepLocked(def, instance, succ, 1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) dispatchStepLocked(def *model.Definition, instance *model.Instance, step *model.Step, attempt int) error {
	input := stepInput(step, instance.Context)
	execution := flow.NewExecution(instance, step, input, attempt, e.clock)
	if err := e.storage.Executions().Save(execution); err != nil {
		return err
	}
	return e.dispatchPendingLocked(def, instance, execution)
}

// dispatchPendingLocked routes a pending execution by step type. Gateways
// resolve inline, timers go to the due set, human tasks get an assignment
// and the rest are handed to the handler worker.
func (e *Engine) dispatchPendingLocked(def *model.Definition, instance *model.Instance, execution *model.Execution) error {
	step := def.Step(execution.StepName)
	if step == nil {
		return model.ResolutionError{Step: execution.StepName, Cause: fmt.Errorf("step not in definition %s", def.Name)}
	}
	instance.CurrentStep = step.Name
	if err := e.storage.Instances().Save(instance); err != nil {
		return err
	}
	switch step.Type {
	case model.STEP_TYPE_GATEWAY:
		if err := flow.CompleteExecution(execution, nil, "system", e.clock); err != nil {
			return err
		}
		if err := e.storage.Executions().Save(execution); err != nil {
			return err
		}
		return e.advanceLocked(def, instance, execution)
	case model.STEP_TYPE_TIMER:
		entry := persistence.TimerEntry{
			InstanceId:  instance.Id,
			ExecutionId: execution.Id,
			FireAt:      e.clock.Now().Add(timerDelay(step)),
		}
		logger.Debug("timer step scheduled", zap.String("instanceId", instance.Id), zap.String("step", step.Name), zap.Time("fireAt", entry.FireAt))
		return e.storage.Timers().Schedule(entry)
	case model.STEP_TYPE_HUMAN_TASK:
		if err := flow.TransitionExecution(execution, model.EXECUTION_RUNNING, e.clock); err != nil {
			return err
		}
		if err := e.storage.Executions().Save(execution); err != nil {
			return err
		}
		assignee, err := e.assignees.Resolve(*step, instance.Context)
		if err != nil {
			return e.failAttemptLocked(def, instance, execution, err)
		}
		assignment := flow.NewAssignment(execution, assignee, e.clock)
		logger.Info("human task assigned", zap.String("instanceId", instance.Id), zap.String("step", step.Name), zap.String("assignee", assignee))
		return e.storage.Assignments().Save(assignment)
	default:
		if err := flow.TransitionExecution(execution, model.EXECUTION_RUNNING, e.clock); err != nil {
			return err
		}
		if err := e.storage.Executions().Save(execution); err != nil {
			return err
		}
		e.enqueueHandler(instance.Id, execution.Id)
		return nil
	}
}

// failAttemptLocked records a failed attempt and decides what happens
// next: retry with a fresh execution row while attempts remain, otherwise
// try the error path and fail the instance when none exists.
func (e *Engine) failAttemptLocked(def *model.Definition, instance *model.Instance, execution *model.Execution, herr error) error {
	hErr := model.HandlerError{Step: execution.StepName, Attempt: execution.Attempt, Cause: herr}
	if err := flow.FailExecution(execution, herr.Error(), e.clock); err != nil {
		return err
	}
	if err := e.storage.Executions().Save(execution); err != nil {
		return err
	}
	step := def.Step(execution.StepName)
	if step == nil {
		return model.ResolutionError{Step: execution.StepName, Cause: fmt.Errorf("step not in definition %s", def.Name)}
	}
	if execution.Attempt < e.retryConf.MaxAttempts {
		retry := flow.NewExecution(instance, step, execution.InputData, execution.Attempt+1, e.clock)
		if err := e.storage.Executions().Save(retry); err != nil {
			return err
		}
		delay := retryDelay(e.retryConf, retry.Attempt)
		logger.Info("retrying step", zap.String("instanceId", instance.Id), zap.String("step", step.Name),
			zap.Int("attempt", retry.Attempt), zap.Duration("delay", delay), zap.Error(hErr))
		if delay <= 0 {
			return e.dispatchPendingLocked(def, instance, retry)
		}
		return e.storage.Timers().Schedule(persistence.TimerEntry{
			InstanceId:  instance.Id,
			ExecutionId: retry.Id,
			FireAt:      e.clock.Now().Add(delay),
		})
	}
	if instance.Context == nil {
		instance.Context = make(map[string]any)
	}
	instance.Context["error"] = map[string]any{
		"step":     step.Name,
		"message":  herr.Error(),
		"attempts": execution.Attempt,
	}
	next, err := e.resolver.NextSteps(def, step, instance.Context)
	if err != nil || len(next) == 0 {
		logger.Error("step failed with no error path", zap.String("instanceId", instance.Id), zap.String("step", step.Name), zap.Error(hErr))
		if terr := flow.TransitionInstance(instance, model.INSTANCE_FAILED, e.clock); terr != nil {
			return terr
		}
		return e.storage.Instances().Save(instance)
	}
	logger.Info("step failed, taking error path", zap.String("instanceId", instance.Id), zap.String("step", step.Name))
	for _, succ := range next {
		if err := e.dispatchStepLocked(def, instance, succ, 1); err != nil {
			return err
		}
	}
	return nil
}

func stepInput(step *model.Step, context map[string]any) map[string]any {
	params, ok := step.Config["parameters"].(map[string]any)
	if !ok {
		return nil
	}
	return util.ResolveInputParams(context, params)
}

func timerDelay(step *model.Step) (d time.Duration) {
	switch v := step.Config["delaySeconds"].(type) {
	case float64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	}
	return 0
}
