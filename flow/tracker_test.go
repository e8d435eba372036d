package flow

import (
	"testing"
	"time"

	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/util"
	"github.com/stretchr/testify/require"
)

func testStep() *model.Step {
	return &model.Step{Name: "validate", Type: model.STEP_TYPE_AUTOMATED}
}

func TestExecutionLifecycle(t *testing.T) {
	clock := util.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	instance := &model.Instance{Id: "inst-1", Status: model.INSTANCE_RUNNING}

	for scenario, fn := range map[string]func(t *testing.T){
		"test new execution is pending": func(t *testing.T) {
			execution := NewExecution(instance, testStep(), map[string]any{"a": 1}, 1, clock)
			require.NotEmpty(t, execution.Id)
			require.Equal(t, "inst-1", execution.InstanceId)
			require.Equal(t, model.EXECUTION_PENDING, execution.Status)
			require.Equal(t, 1, execution.Attempt)
			require.Nil(t, execution.CompletedAt)
		},
		"test complete sets output and stamps": func(t *testing.T) {
			execution := NewExecution(instance, testStep(), nil, 1, clock)
			require.NoError(t, TransitionExecution(execution, model.EXECUTION_RUNNING, clock))
			require.NoError(t, CompleteExecution(execution, map[string]any{"ok": true}, "system", clock))
			require.Equal(t, model.EXECUTION_COMPLETED, execution.Status)
			require.Equal(t, "system", execution.ExecutedBy)
			require.NotNil(t, execution.CompletedAt)
		},
		"test fail records message": func(t *testing.T) {
			execution := NewExecution(instance, testStep(), nil, 1, clock)
			require.NoError(t, TransitionExecution(execution, model.EXECUTION_RUNNING, clock))
			require.NoError(t, FailExecution(execution, "boom", clock))
			require.Equal(t, model.EXECUTION_FAILED, execution.Status)
			require.Equal(t, "boom", execution.ErrorMessage)
		},
		"test terminal row can not move": func(t *testing.T) {
			execution := NewExecution(instance, testStep(), nil, 1, clock)
			require.NoError(t, CompleteExecution(execution, nil, "system", clock))
			err := TransitionExecution(execution, model.EXECUTION_RUNNING, clock)
			require.Error(t, err)
			_, ok := err.(model.InvalidTransitionError)
			require.True(t, ok)
		},
		"test pending can not fail": func(t *testing.T) {
			execution := NewExecution(instance, testStep(), nil, 1, clock)
			require.Error(t, FailExecution(execution, "boom", clock))
			require.Equal(t, model.EXECUTION_PENDING, execution.Status)
		},
		"test active executions filter": func(t *testing.T) {
			running := NewExecution(instance, testStep(), nil, 1, clock)
			done := NewExecution(instance, testStep(), nil, 1, clock)
			require.NoError(t, CompleteExecution(done, nil, "system", clock))
			active := ActiveExecutions([]*model.Execution{running, done})
			require.Len(t, active, 1)
			require.Equal(t, running.Id, active[0].Id)
		},
	} {
		t.Run(scenario, fn)
	}
}
