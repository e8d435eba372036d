package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stepflow-io/stepflow/evaluator"
	"github.com/stepflow-io/stepflow/executor"
	"github.com/stepflow-io/stepflow/graph"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence/inmem"
	"github.com/stepflow-io/stepflow/util"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	fn func(step model.Step, input map[string]any) (map[string]any, error)
}

func (h stubHandler) Execute(step model.Step, input map[string]any) (map[string]any, error) {
	return h.fn(step, input)
}

type testEnv struct {
	engine   *Engine
	storage  *inmem.Storage
	clock    *util.FakeClock
	registry *executor.Registry
}

func newTestEnv(t *testing.T, retryConf model.RetryConfig) *testEnv {
	return newTestEnvWithCapacity(t, retryConf, 16)
}

func newTestEnvWithCapacity(t *testing.T, retryConf model.RetryConfig, capacity int) *testEnv {
	storage := inmem.NewStorage()
	clock := util.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	registry := executor.NewRegistry()
	var wg sync.WaitGroup
	e := New(storage, graph.NewResolver(evaluator.NewJsEvaluator()), registry,
		executor.NewConfigAssigneeResolver(), retryConf, clock, capacity, &wg)
	e.Start()
	t.Cleanup(e.Stop)
	return &testEnv{engine: e, storage: storage, clock: clock, registry: registry}
}

func (env *testEnv) saveActiveDefinition(t *testing.T, steps ...model.Step) *model.Definition {
	def := &model.Definition{
		Id:      "def-1",
		Name:    "order-flow",
		Version: 1,
		Status:  model.DEFINITION_ACTIVE,
		Steps:   steps,
	}
	require.NoError(t, env.storage.Definitions().Save(def))
	return def
}

// advancing the fake clock per handler call keeps execution rows ordered
// by StartedAt even though everything runs within one tick
func (env *testEnv) recordingHandler(outputs map[string]map[string]any) stubHandler {
	return stubHandler{fn: func(step model.Step, input map[string]any) (map[string]any, error) {
		env.clock.Advance(time.Second)
		return outputs[step.Name], nil
	}}
}

func (env *testEnv) instanceStatus(t *testing.T, id string) model.InstanceStatus {
	instance, err := env.storage.Instances().Get(id)
	require.NoError(t, err)
	return instance.Status
}

func (env *testEnv) waitForStatus(t *testing.T, id string, status model.InstanceStatus) {
	require.Eventually(t, func() bool {
		return env.instanceStatus(t, id) == status
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEngine(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test linear flow completes":           testLinearFlow,
		"test gateway takes one branch":        testGatewayBranch,
		"test inactive definition rejected":    testInactiveDefinition,
		"test human task lifecycle":            testHumanTaskLifecycle,
		"test reject reassigns":                testRejectReassigns,
		"test delegate reassigns":              testDelegateReassigns,
		"test cancel stops everything":         testCancelStopsEverything,
		"test suspend blocks completion":       testSuspendBlocksCompletion,
		"test retry exhaustion fails instance": testRetryExhaustion,
		"test error path recovers":             testErrorPath,
		"test timer step fires":                testTimerStep,
		"test racing advance completes once":   testRacingAdvance,
		"test dead end fails instance":         testDeadEndFailsInstance,
		"test runtime condition error fails":   testRuntimeConditionError,
		"test advance closes assignment":       testAdvanceClosesAssignment,
		"test suspend blocks assignment ops":   testSuspendBlocksAssignmentOps,
		"test fan out with single worker":      testFanOutSingleWorker,
		"test stepless definition completes":   testSteplessDefinition,
	} {
		t.Run(scenario, fn)
	}
}

func testLinearFlow(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	env.registry.Register(model.STEP_TYPE_AUTOMATED, env.recordingHandler(map[string]map[string]any{
		"validate": {"validated": true},
		"charge":   {"charged": true},
		"ship":     {"shipped": true},
	}))
	env.saveActiveDefinition(t,
		model.Step{Name: "validate", Type: model.STEP_TYPE_AUTOMATED, Order: 1, Successors: []string{"charge"}},
		model.Step{Name: "charge", Type: model.STEP_TYPE_AUTOMATED, Order: 2, Successors: []string{"ship"}},
		model.Step{Name: "ship", Type: model.STEP_TYPE_AUTOMATED, Order: 3},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{
		DefinitionName: "order-flow",
		Name:           "order-1",
		StartedBy:      "alice",
		Input:          map[string]any{"orderId": "ord-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, instance.DefinitionVersion)

	env.waitForStatus(t, instance.Id, model.INSTANCE_COMPLETED)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 3)
	require.Equal(t, "validate", executions[0].StepName)
	require.Equal(t, "charge", executions[1].StepName)
	require.Equal(t, "ship", executions[2].StepName)
	for _, execution := range executions {
		require.Equal(t, model.EXECUTION_COMPLETED, execution.Status)
	}

	final, err := env.storage.Instances().Get(instance.Id)
	require.NoError(t, err)
	require.Equal(t, true, final.Context["validated"])
	require.Equal(t, true, final.Context["shipped"])
	require.Equal(t, "ord-1", final.Context["orderId"])
	require.NotNil(t, final.CompletedAt)
	require.Empty(t, final.CurrentStep)
}

func testGatewayBranch(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	env.registry.Register(model.STEP_TYPE_AUTOMATED, env.recordingHandler(nil))
	env.saveActiveDefinition(t,
		model.Step{
			Name: "route", Type: model.STEP_TYPE_GATEWAY, Order: 1,
			Successors: []string{"approve", "autoship"},
			Conditions: map[string]string{
				"approve":  "$.amount > 100",
				"autoship": "$.amount <= 100",
			},
		},
		model.Step{Name: "approve", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
		model.Step{Name: "autoship", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{
		DefinitionName: "order-flow",
		Input:          map[string]any{"amount": 42},
	})
	require.NoError(t, err)
	env.waitForStatus(t, instance.Id, model.INSTANCE_COMPLETED)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	names := map[string]bool{}
	for _, execution := range executions {
		names[execution.StepName] = true
	}
	require.True(t, names["route"])
	require.True(t, names["autoship"])
	require.False(t, names["approve"])
}

func testInactiveDefinition(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	def := env.saveActiveDefinition(t,
		model.Step{Name: "validate", Type: model.STEP_TYPE_AUTOMATED, Order: 1},
	)
	def.Status = model.DEFINITION_DRAFT
	require.NoError(t, env.storage.Definitions().Save(def))

	_, err := env.engine.StartInstance(model.InstanceRunRequest{
		DefinitionName:    "order-flow",
		DefinitionVersion: 1,
	})
	require.Error(t, err)
	_, ok := err.(model.DefinitionNotActiveError)
	require.True(t, ok)
}

func (env *testEnv) startHumanTask(t *testing.T) (*model.Instance, *model.Execution, *model.Assignment) {
	env.saveActiveDefinition(t,
		model.Step{
			Name: "approve", Type: model.STEP_TYPE_HUMAN_TASK, Order: 1,
			Config: map[string]any{"assignee": "reviewer"},
		},
	)
	instance, err := env.engine.StartInstance(model.InstanceRunRequest{DefinitionName: "order-flow"})
	require.NoError(t, err)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, model.EXECUTION_RUNNING, executions[0].Status)

	assignment, err := env.storage.Assignments().GetActiveByExecution(executions[0].Id)
	require.NoError(t, err)
	require.Equal(t, "reviewer", assignment.Assignee)
	require.Equal(t, model.ASSIGNMENT_ASSIGNED, assignment.Status)
	return instance, executions[0], assignment
}

func testHumanTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	instance, execution, assignment := env.startHumanTask(t)

	require.NoError(t, env.engine.AcknowledgeAssignment(assignment.Id))
	acked, err := env.storage.Assignments().Get(assignment.Id)
	require.NoError(t, err)
	require.Equal(t, model.ASSIGNMENT_IN_PROGRESS, acked.Status)

	require.NoError(t, env.engine.CompleteAssignment(assignment.Id, "looks good", map[string]any{"approved": true}))

	done, err := env.storage.Executions().Get(execution.Id)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, done.Status)
	require.Equal(t, "reviewer", done.ExecutedBy)

	final, err := env.storage.Instances().Get(instance.Id)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_COMPLETED, final.Status)
	require.Equal(t, true, final.Context["approved"])
}

func testRejectReassigns(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	_, execution, assignment := env.startHumanTask(t)

	require.NoError(t, env.engine.RejectAssignment(assignment.Id, "not mine"))

	rejected, err := env.storage.Assignments().Get(assignment.Id)
	require.NoError(t, err)
	require.Equal(t, model.ASSIGNMENT_REJECTED, rejected.Status)
	require.Equal(t, "not mine", rejected.Comments)

	next, err := env.storage.Assignments().GetActiveByExecution(execution.Id)
	require.NoError(t, err)
	require.NotEqual(t, assignment.Id, next.Id)
	require.Equal(t, model.ASSIGNMENT_ASSIGNED, next.Status)
}

func testDelegateReassigns(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	_, execution, assignment := env.startHumanTask(t)

	require.NoError(t, env.engine.DelegateAssignment(assignment.Id, "lead", "escalating"))

	next, err := env.storage.Assignments().GetActiveByExecution(execution.Id)
	require.NoError(t, err)
	require.Equal(t, "lead", next.Assignee)

	all, err := env.storage.Assignments().ListByExecution(execution.Id)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func testCancelStopsEverything(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	instance, execution, assignment := env.startHumanTask(t)

	require.NoError(t, env.engine.Cancel(instance.Id))

	final, err := env.storage.Instances().Get(instance.Id)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_CANCELLED, final.Status)
	require.NotNil(t, final.CompletedAt)

	cancelled, err := env.storage.Executions().Get(execution.Id)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_CANCELLED, cancelled.Status)

	gone, err := env.storage.Assignments().Get(assignment.Id)
	require.NoError(t, err)
	require.Equal(t, model.ASSIGNMENT_CANCELLED, gone.Status)

	err = env.engine.CompleteAssignment(assignment.Id, "", nil)
	require.Error(t, err)
}

func testSuspendBlocksCompletion(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	instance, _, assignment := env.startHumanTask(t)

	require.NoError(t, env.engine.Suspend(instance.Id))
	err := env.engine.CompleteAssignment(assignment.Id, "", nil)
	require.Error(t, err)
	_, ok := err.(model.InvalidTransitionError)
	require.True(t, ok)

	require.NoError(t, env.engine.Resume(instance.Id))
	require.NoError(t, env.engine.CompleteAssignment(assignment.Id, "", map[string]any{"approved": true}))
	require.Equal(t, model.INSTANCE_COMPLETED, env.instanceStatus(t, instance.Id))
}

func testRetryExhaustion(t *testing.T) {
	env := newTestEnv(t, model.RetryConfig{MaxAttempts: 2, RetryAfterSeconds: 0, Policy: model.RETRY_POLICY_FIXED})
	env.registry.Register(model.STEP_TYPE_AUTOMATED, stubHandler{fn: func(step model.Step, input map[string]any) (map[string]any, error) {
		env.clock.Advance(time.Second)
		return nil, fmt.Errorf("downstream unavailable")
	}})
	env.saveActiveDefinition(t,
		model.Step{Name: "charge", Type: model.STEP_TYPE_AUTOMATED, Order: 1},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{DefinitionName: "order-flow"})
	require.NoError(t, err)
	env.waitForStatus(t, instance.Id, model.INSTANCE_FAILED)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	for i, execution := range executions {
		require.Equal(t, model.EXECUTION_FAILED, execution.Status)
		require.Equal(t, i+1, execution.Attempt)
	}

	final, err := env.storage.Instances().Get(instance.Id)
	require.NoError(t, err)
	errInfo, ok := final.Context["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "charge", errInfo["step"])
}

func testErrorPath(t *testing.T) {
	env := newTestEnv(t, model.RetryConfig{MaxAttempts: 1, RetryAfterSeconds: 0, Policy: model.RETRY_POLICY_FIXED})
	env.registry.Register(model.STEP_TYPE_AUTOMATED, stubHandler{fn: func(step model.Step, input map[string]any) (map[string]any, error) {
		env.clock.Advance(time.Second)
		if step.Name == "charge" {
			return nil, fmt.Errorf("card declined")
		}
		return map[string]any{"refunded": true}, nil
	}})
	env.saveActiveDefinition(t,
		model.Step{
			Name: "charge", Type: model.STEP_TYPE_AUTOMATED, Order: 1,
			Successors: []string{"ship", "compensate"},
			Conditions: map[string]string{
				"ship":       "$.error == null",
				"compensate": "$.error != null",
			},
		},
		model.Step{Name: "ship", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
		model.Step{Name: "compensate", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{DefinitionName: "order-flow"})
	require.NoError(t, err)
	env.waitForStatus(t, instance.Id, model.INSTANCE_COMPLETED)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	require.Equal(t, "charge", executions[0].StepName)
	require.Equal(t, model.EXECUTION_FAILED, executions[0].Status)
	require.Equal(t, "compensate", executions[1].StepName)
	require.Equal(t, model.EXECUTION_COMPLETED, executions[1].Status)

	final, err := env.storage.Instances().Get(instance.Id)
	require.NoError(t, err)
	require.NotNil(t, final.Context["error"])
	require.Equal(t, true, final.Context["refunded"])
}

func testTimerStep(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	env.registry.Register(model.STEP_TYPE_AUTOMATED, env.recordingHandler(nil))
	env.saveActiveDefinition(t,
		model.Step{
			Name: "wait", Type: model.STEP_TYPE_TIMER, Order: 1,
			Config:     map[string]any{"delaySeconds": 60},
			Successors: []string{"ship"},
		},
		model.Step{Name: "ship", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{DefinitionName: "order-flow"})
	require.NoError(t, err)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, model.EXECUTION_PENDING, executions[0].Status)

	// nothing due before the delay elapses
	due, err := env.storage.Timers().PollDue(env.clock.Now().Add(30 * time.Second))
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = env.storage.Timers().PollDue(env.clock.Now().Add(61 * time.Second))
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, env.engine.FireTimer(due[0].InstanceId, due[0].ExecutionId))
	env.waitForStatus(t, instance.Id, model.INSTANCE_COMPLETED)

	fired, err := env.storage.Executions().Get(executions[0].Id)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, fired.Status)
	require.Equal(t, "timer", fired.ExecutedBy)
}

func testRacingAdvance(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	instance, execution, _ := env.startHumanTask(t)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- env.engine.Advance(instance.Id, execution.Id, map[string]any{"approved": true})
		}()
	}
	var failures int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			_, ok := err.(model.InvalidTransitionError)
			require.True(t, ok)
			failures++
		}
	}
	require.Equal(t, 1, failures)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, model.INSTANCE_COMPLETED, env.instanceStatus(t, instance.Id))

	// the winning advance must also have closed the assignment
	assignments, err := env.storage.Assignments().ListByExecution(execution.Id)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.Equal(t, model.ASSIGNMENT_COMPLETED, assignments[0].Status)
}

func testDeadEndFailsInstance(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	env.saveActiveDefinition(t,
		model.Step{
			Name: "route", Type: model.STEP_TYPE_GATEWAY, Order: 1,
			Successors: []string{"approve"},
			Conditions: map[string]string{"approve": "$.amount > 100"},
		},
		model.Step{Name: "approve", Type: model.STEP_TYPE_HUMAN_TASK, Order: 2, Config: map[string]any{"assignee": "reviewer"}},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{
		DefinitionName: "order-flow",
		Input:          map[string]any{"amount": 10},
	})
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_FAILED, env.instanceStatus(t, instance.Id))
}

func testAdvanceClosesAssignment(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	instance, execution, assignment := env.startHumanTask(t)

	require.NoError(t, env.engine.Advance(instance.Id, execution.Id, map[string]any{"approved": true}))

	closed, err := env.storage.Assignments().Get(assignment.Id)
	require.NoError(t, err)
	require.Equal(t, model.ASSIGNMENT_COMPLETED, closed.Status)
	require.Equal(t, true, closed.Output["approved"])
	require.NotNil(t, closed.CompletedAt)

	done, err := env.storage.Executions().Get(execution.Id)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, done.Status)
	require.Equal(t, model.INSTANCE_COMPLETED, env.instanceStatus(t, instance.Id))
}

func testSuspendBlocksAssignmentOps(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	instance, execution, assignment := env.startHumanTask(t)

	require.NoError(t, env.engine.Suspend(instance.Id))

	for _, err := range []error{
		env.engine.AcknowledgeAssignment(assignment.Id),
		env.engine.RejectAssignment(assignment.Id, "nope"),
		env.engine.DelegateAssignment(assignment.Id, "lead", "escalating"),
	} {
		require.Error(t, err)
		_, ok := err.(model.InvalidTransitionError)
		require.True(t, ok)
	}

	// no new work may appear while suspended
	all, err := env.storage.Assignments().ListByExecution(execution.Id)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, model.ASSIGNMENT_ASSIGNED, all[0].Status)

	require.NoError(t, env.engine.Resume(instance.Id))
	require.NoError(t, env.engine.AcknowledgeAssignment(assignment.Id))
	require.NoError(t, env.engine.CompleteAssignment(assignment.Id, "", map[string]any{"approved": true}))
	require.Equal(t, model.INSTANCE_COMPLETED, env.instanceStatus(t, instance.Id))
}

// fan-out wider than the worker pool must not wedge on the handler queue
func testFanOutSingleWorker(t *testing.T) {
	env := newTestEnvWithCapacity(t, DefaultRetryConfig(), 1)
	env.registry.Register(model.STEP_TYPE_AUTOMATED, env.recordingHandler(nil))
	env.saveActiveDefinition(t,
		model.Step{
			Name: "split", Type: model.STEP_TYPE_GATEWAY, Order: 1,
			Successors: []string{"a", "b", "c", "d"},
		},
		model.Step{Name: "a", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
		model.Step{Name: "b", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
		model.Step{Name: "c", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
		model.Step{Name: "d", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{DefinitionName: "order-flow"})
	require.NoError(t, err)
	env.waitForStatus(t, instance.Id, model.INSTANCE_COMPLETED)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 5)
	for _, execution := range executions {
		require.Equal(t, model.EXECUTION_COMPLETED, execution.Status)
	}
}

func testSteplessDefinition(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	env.saveActiveDefinition(t)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{DefinitionName: "order-flow"})
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_COMPLETED, instance.Status)
	require.NotNil(t, instance.CompletedAt)
	require.Empty(t, instance.CurrentStep)

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Empty(t, executions)
}

func testRuntimeConditionError(t *testing.T) {
	env := newTestEnv(t, DefaultRetryConfig())
	env.saveActiveDefinition(t,
		model.Step{
			Name: "route", Type: model.STEP_TYPE_GATEWAY, Order: 1,
			Successors: []string{"ship"},
			Conditions: map[string]string{"ship": "$.order.total > 10"},
		},
		model.Step{Name: "ship", Type: model.STEP_TYPE_AUTOMATED, Order: 2},
	)

	instance, err := env.engine.StartInstance(model.InstanceRunRequest{DefinitionName: "order-flow"})
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_FAILED, env.instanceStatus(t, instance.Id))

	executions, err := env.storage.Executions().ListByInstance(instance.Id)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.NotEmpty(t, executions[0].ErrorMessage)
}
