package redis

import (
	"github.com/stepflow-io/stepflow/persistence"
)

var _ persistence.Storage = new(redisStorage)

type redisStorage struct {
	definitions *redisDefinitionDao
	instances   *redisInstanceDao
	executions  *redisExecutionDao
	assignments *redisAssignmentDao
	timers      *redisTimerDao
}

func NewRedisStorage(conf Config) *redisStorage {
	baseDao := newBaseDao(conf)
	return &redisStorage{
		definitions: NewRedisDefinitionDao(baseDao),
		instances:   NewRedisInstanceDao(baseDao),
		executions:  NewRedisExecutionDao(baseDao),
		assignments: NewRedisAssignmentDao(baseDao),
		timers:      NewRedisTimerDao(baseDao),
	}
}

func (s *redisStorage) Definitions() persistence.DefinitionStorage {
	return s.definitions
}

func (s *redisStorage) Instances() persistence.InstanceStorage {
	return s.instances
}

func (s *redisStorage) Executions() persistence.ExecutionStorage {
	return s.executions
}

func (s *redisStorage) Assignments() persistence.AssignmentStorage {
	return s.assignments
}

func (s *redisStorage) Timers() persistence.TimerStorage {
	return s.timers
}
