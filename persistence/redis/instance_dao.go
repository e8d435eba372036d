package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
	"go.uber.org/zap"
)

const INSTANCE_KEY string = "INSTANCE"
const INSTANCE_INDEX_KEY string = "INSTANCES"
const INSTANCE_LOCK_KEY string = "INSTANCE_LOCK"

const lockTTL = 30 * time.Second
const lockRetryDelay = 20 * time.Millisecond

// releases the lock only if still held by this owner
const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

var _ persistence.InstanceStorage = new(redisInstanceDao)

type redisInstanceDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Instance]
}

func NewRedisInstanceDao(baseDao *baseDao) *redisInstanceDao {
	return &redisInstanceDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Instance](),
	}
}

func (ri *redisInstanceDao) Save(instance *model.Instance) error {
	ctx := context.Background()
	data, err := ri.encoderDecoder.Encode(*instance)
	if err != nil {
		return err
	}
	key := ri.getNamespaceKey(INSTANCE_KEY, instance.Id)
	indexKey := ri.getNamespaceKey(INSTANCE_INDEX_KEY, instance.DefinitionName, strconv.Itoa(instance.DefinitionVersion))
	pipe := ri.redisClient.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, instance.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving instance", zap.String("instanceId", instance.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (ri *redisInstanceDao) Get(id string) (*model.Instance, error) {
	ctx := context.Background()
	key := ri.getNamespaceKey(INSTANCE_KEY, id)
	val, err := ri.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "instance", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return ri.encoderDecoder.Decode([]byte(val))
}

func (ri *redisInstanceDao) ListByDefinition(name string, version int) ([]*model.Instance, error) {
	ctx := context.Background()
	indexKey := ri.getNamespaceKey(INSTANCE_INDEX_KEY, name, strconv.Itoa(version))
	ids, err := ri.redisClient.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	instances := make([]*model.Instance, 0, len(ids))
	for _, id := range ids {
		instance, err := ri.Get(id)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (ri *redisInstanceDao) CountByDefinition(name string, version int) (int, error) {
	ctx := context.Background()
	indexKey := ri.getNamespaceKey(INSTANCE_INDEX_KEY, name, strconv.Itoa(version))
	count, err := ri.redisClient.SCard(ctx, indexKey).Result()
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return int(count), nil
}

// Lock takes the instance advancement lock with SET NX and a TTL so a
// crashed holder cannot wedge the instance forever. Release is guarded by
// a Lua compare-and-delete on the owner token.
func (ri *redisInstanceDao) Lock(id string) (func(), error) {
	ctx := context.Background()
	key := ri.getNamespaceKey(INSTANCE_LOCK_KEY, id)
	owner := uuid.New().String()
	deadline := time.Now().Add(lockTTL)
	for {
		ok, err := ri.redisClient.SetNX(ctx, key, owner, lockTTL).Result()
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, persistence.StorageLayerError{Message: "timed out waiting for instance lock " + id}
		}
		time.Sleep(lockRetryDelay)
	}
	unlock := func() {
		if err := ri.redisClient.Eval(ctx, unlockScript, []string{key}, owner).Err(); err != nil && !errors.Is(err, rd.Nil) {
			logger.Error("error releasing instance lock", zap.String("instanceId", id), zap.Error(err))
		}
	}
	return unlock, nil
}
