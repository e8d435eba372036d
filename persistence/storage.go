package persistence

import (
	"fmt"
	"time"

	"github.com/stepflow-io/stepflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

// DefinitionStorage persists workflow definitions. (name, version) is a
// unique pair; Delete must be refused by callers while live instances exist.
type DefinitionStorage interface {
	Save(def *model.Definition) error
	Get(id string) (*model.Definition, error)
	GetByNameVersion(name string, version int) (*model.Definition, error)
	GetLatestVersion(name string) (*model.Definition, error)
	GetLatestActive(name string) (*model.Definition, error)
	ListVersions(name string) ([]*model.Definition, error)
	Delete(id string) error
}

// InstanceStorage persists instances. Lock takes the instance's exclusive
// advancement lock and returns the release function; all engine mutations
// of an instance happen between Lock and release.
type InstanceStorage interface {
	Save(instance *model.Instance) error
	Get(id string) (*model.Instance, error)
	ListByDefinition(name string, version int) ([]*model.Instance, error)
	CountByDefinition(name string, version int) (int, error)
	Lock(id string) (func(), error)
}

type ExecutionStorage interface {
	Save(execution *model.Execution) error
	Get(id string) (*model.Execution, error)
	ListByInstance(instanceId string) ([]*model.Execution, error)
}

type AssignmentStorage interface {
	Save(assignment *model.Assignment) error
	Get(id string) (*model.Assignment, error)
	ListByExecution(executionId string) ([]*model.Assignment, error)
	GetActiveByExecution(executionId string) (*model.Assignment, error)
}

// TimerEntry is a scheduled wake-up for an instance's pending execution.
// It serves timer steps and delayed retries alike.
type TimerEntry struct {
	InstanceId  string    `json:"instanceId"`
	ExecutionId string    `json:"executionId"`
	FireAt      time.Time `json:"fireAt"`
}

type TimerStorage interface {
	Schedule(entry TimerEntry) error
	PollDue(now time.Time) ([]TimerEntry, error)
}

type Storage interface {
	Definitions() DefinitionStorage
	Instances() InstanceStorage
	Executions() ExecutionStorage
	Assignments() AssignmentStorage
	Timers() TimerStorage
}
