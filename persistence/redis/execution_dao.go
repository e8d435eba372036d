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

const EXECUTION_KEY string = "EXECUTION"
const EXECUTION_INSTANCE_KEY string = "EXECUTION_INSTANCE"

var _ persistence.ExecutionStorage = new(redisExecutionDao)

type redisExecutionDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Execution]
}

func NewRedisExecutionDao(baseDao *baseDao) *redisExecutionDao {
	return &redisExecutionDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Execution](),
	}
}

func (re *redisExecutionDao) Save(execution *model.Execution) error {
	ctx := context.Background()
	data, err := re.encoderDecoder.Encode(*execution)
	if err != nil {
		return err
	}
	key := re.getNamespaceKey(EXECUTION_KEY, execution.InstanceId)
	indexKey := re.getNamespaceKey(EXECUTION_INSTANCE_KEY)
	pipe := re.redisClient.TxPipeline()
	pipe.HSet(ctx, key, []string{execution.Id, string(data)})
	pipe.HSet(ctx, indexKey, []string{execution.Id, execution.InstanceId})
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving execution", zap.String("executionId", execution.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (re *redisExecutionDao) Get(id string) (*model.Execution, error) {
	ctx := context.Background()
	indexKey := re.getNamespaceKey(EXECUTION_INSTANCE_KEY)
	instanceId, err := re.redisClient.HGet(ctx, indexKey, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "execution", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	key := re.getNamespaceKey(EXECUTION_KEY, instanceId)
	val, err := re.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "execution", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return re.encoderDecoder.Decode([]byte(val))
}

func (re *redisExecutionDao) ListByInstance(instanceId string) ([]*model.Execution, error) {
	ctx := context.Background()
	key := re.getNamespaceKey(EXECUTION_KEY, instanceId)
	vals, err := re.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	executions := make([]*model.Execution, 0, len(vals))
	for _, val := range vals {
		execution, err := re.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, nil
}
