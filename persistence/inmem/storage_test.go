package inmem

import (
	"testing"
	"time"

	"github.com/stepflow-io/stepflow/model"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, storage *Storage,
	){
		"test saved values are copies":   testSavedValuesAreCopies,
		"test executions sorted":         testExecutionsSorted,
		"test active assignment lookup":  testActiveAssignmentLookup,
		"test lock is exclusive":         testLockIsExclusive,
		"test count instances":           testCountInstances,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewStorage())
		})
	}
}

func testSavedValuesAreCopies(t *testing.T, storage *Storage) {
	instance := &model.Instance{
		Id:      "inst-1",
		Status:  model.INSTANCE_RUNNING,
		Context: map[string]any{"a": "1"},
	}
	require.NoError(t, storage.Instances().Save(instance))

	instance.Context["a"] = "mutated"
	got, err := storage.Instances().Get("inst-1")
	require.NoError(t, err)
	require.Equal(t, "1", got.Context["a"])

	got.Context["a"] = "mutated again"
	again, err := storage.Instances().Get("inst-1")
	require.NoError(t, err)
	require.Equal(t, "1", again.Context["a"])
}

func testExecutionsSorted(t *testing.T, storage *Storage) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	offsets := map[string]int{"first": 0, "second": 1, "third": 2}
	for _, id := range []string{"third", "first", "second"} {
		require.NoError(t, storage.Executions().Save(&model.Execution{
			Id:         id,
			InstanceId: "inst-1",
			StepName:   id,
			Status:     model.EXECUTION_PENDING,
			StartedAt:  base.Add(time.Duration(offsets[id]) * time.Second),
		}))
	}
	executions, err := storage.Executions().ListByInstance("inst-1")
	require.NoError(t, err)
	require.Len(t, executions, 3)
	require.Equal(t, "first", executions[0].Id)
	require.Equal(t, "second", executions[1].Id)
	require.Equal(t, "third", executions[2].Id)
}

func testActiveAssignmentLookup(t *testing.T, storage *Storage) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, storage.Assignments().Save(&model.Assignment{
		Id: "a-1", ExecutionId: "exec-1", Status: model.ASSIGNMENT_REJECTED, AssignedAt: base,
	}))
	require.NoError(t, storage.Assignments().Save(&model.Assignment{
		Id: "a-2", ExecutionId: "exec-1", Status: model.ASSIGNMENT_ASSIGNED, AssignedAt: base.Add(time.Second),
	}))

	active, err := storage.Assignments().GetActiveByExecution("exec-1")
	require.NoError(t, err)
	require.Equal(t, "a-2", active.Id)

	_, err = storage.Assignments().GetActiveByExecution("exec-2")
	require.Error(t, err)
	_, ok := err.(model.NotFoundError)
	require.True(t, ok)
}

func testLockIsExclusive(t *testing.T, storage *Storage) {
	unlock, err := storage.Instances().Lock("inst-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := storage.Instances().Lock("inst-1")
		require.NoError(t, err)
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired twice")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}
}

func testCountInstances(t *testing.T, storage *Storage) {
	for _, id := range []string{"i-1", "i-2"} {
		require.NoError(t, storage.Instances().Save(&model.Instance{
			Id: id, DefinitionName: "order-flow", DefinitionVersion: 1,
		}))
	}
	require.NoError(t, storage.Instances().Save(&model.Instance{
		Id: "i-3", DefinitionName: "order-flow", DefinitionVersion: 2,
	}))

	count, err := storage.Instances().CountByDefinition("order-flow", 1)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
