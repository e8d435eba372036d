package service

import (
	"github.com/stepflow-io/stepflow/engine"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
)

// InstanceService is the API-facing wrapper over the orchestrator plus the
// read queries the REST layer needs.
type InstanceService struct {
	engine  *engine.Engine
	storage persistence.Storage
}

func NewInstanceService(engine *engine.Engine, storage persistence.Storage) *InstanceService {
	return &InstanceService{
		engine:  engine,
		storage: storage,
	}
}

func (s *InstanceService) Start(req model.InstanceRunRequest) (*model.Instance, error) {
	return s.engine.StartInstance(req)
}

func (s *InstanceService) Get(id string) (*model.Instance, error) {
	return s.storage.Instances().Get(id)
}

func (s *InstanceService) ListByDefinition(name string, version int) ([]*model.Instance, error) {
	return s.storage.Instances().ListByDefinition(name, version)
}

func (s *InstanceService) Suspend(id string) error {
	return s.engine.Suspend(id)
}

func (s *InstanceService) Resume(id string) error {
	return s.engine.Resume(id)
}

func (s *InstanceService) Cancel(id string) error {
	return s.engine.Cancel(id)
}

func (s *InstanceService) ListExecutions(instanceId string) ([]*model.Execution, error) {
	return s.storage.Executions().ListByInstance(instanceId)
}

func (s *InstanceService) ListAssignments(executionId string) ([]*model.Assignment, error) {
	return s.storage.Assignments().ListByExecution(executionId)
}

func (s *InstanceService) AcknowledgeAssignment(assignmentId string) error {
	return s.engine.AcknowledgeAssignment(assignmentId)
}

func (s *InstanceService) CompleteAssignment(assignmentId string, comments string, output map[string]any) error {
	return s.engine.CompleteAssignment(assignmentId, comments, output)
}

func (s *InstanceService) RejectAssignment(assignmentId string, comments string) error {
	return s.engine.RejectAssignment(assignmentId, comments)
}

func (s *InstanceService) DelegateAssignment(assignmentId string, assignee string, comments string) error {
	return s.engine.DelegateAssignment(assignmentId, assignee, comments)
}
