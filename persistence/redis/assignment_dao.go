package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
	"go.uber.org/zap"
)

const ASSIGNMENT_KEY string = "ASSIGNMENT"
const ASSIGNMENT_EXECUTION_KEY string = "ASSIGNMENT_EXECUTION"

var _ persistence.AssignmentStorage = new(redisAssignmentDao)

type redisAssignmentDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Assignment]
}

func NewRedisAssignmentDao(baseDao *baseDao) *redisAssignmentDao {
	return &redisAssignmentDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Assignment](),
	}
}

func (ra *redisAssignmentDao) Save(assignment *model.Assignment) error {
	ctx := context.Background()
	data, err := ra.encoderDecoder.Encode(*assignment)
	if err != nil {
		return err
	}
	key := ra.getNamespaceKey(ASSIGNMENT_KEY, assignment.ExecutionId)
	indexKey := ra.getNamespaceKey(ASSIGNMENT_EXECUTION_KEY)
	pipe := ra.redisClient.TxPipeline()
	pipe.HSet(ctx, key, []string{assignment.Id, string(data)})
	pipe.HSet(ctx, indexKey, []string{assignment.Id, assignment.ExecutionId})
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving assignment", zap.String("assignmentId", assignment.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (ra *redisAssignmentDao) Get(id string) (*model.Assignment, error) {
	ctx := context.Background()
	indexKey := ra.getNamespaceKey(ASSIGNMENT_EXECUTION_KEY)
	executionId, err := ra.redisClient.HGet(ctx, indexKey, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "assignment", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	key := ra.getNamespaceKey(ASSIGNMENT_KEY, executionId)
	val, err := ra.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "assignment", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return ra.encoderDecoder.Decode([]byte(val))
}

func (ra *redisAssignmentDao) ListByExecution(executionId string) ([]*model.Assignment, error) {
	ctx := context.Background()
	key := ra.getNamespaceKey(ASSIGNMENT_KEY, executionId)
	vals, err := ra.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	assignments := make([]*model.Assignment, 0, len(vals))
	for _, val := range vals {
		assignment, err := ra.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

func (ra *redisAssignmentDao) GetActiveByExecution(executionId string) (*model.Assignment, error) {
	assignments, err := ra.ListByExecution(executionId)
	if err != nil {
		return nil, err
	}
	for _, assignment := range assignments {
		if !assignment.Status.Terminal() {
			return assignment, nil
		}
	}
	return nil, model.NotFoundError{Kind: "active assignment", Id: executionId}
}
