package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
	"go.uber.org/zap"
)

const DEFINITION_KEY string = "DEFINITION"
const DEFINITION_VERSIONS_KEY string = "DEFINITION_VERSIONS"

var _ persistence.DefinitionStorage = new(redisDefinitionDao)

type redisDefinitionDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Definition]
}

func NewRedisDefinitionDao(baseDao *baseDao) *redisDefinitionDao {
	return &redisDefinitionDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Definition](),
	}
}

func (rdd *redisDefinitionDao) Save(def *model.Definition) error {
	ctx := context.Background()
	data, err := rdd.encoderDecoder.Encode(*def)
	if err != nil {
		return err
	}
	key := rdd.getNamespaceKey(DEFINITION_KEY, def.Id)
	versionsKey := rdd.getNamespaceKey(DEFINITION_VERSIONS_KEY, def.Name)
	pipe := rdd.redisClient.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.HSet(ctx, versionsKey, []string{strconv.Itoa(def.Version), def.Id})
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving definition", zap.String("name", def.Name), zap.Int("version", def.Version), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rdd *redisDefinitionDao) Get(id string) (*model.Definition, error) {
	ctx := context.Background()
	key := rdd.getNamespaceKey(DEFINITION_KEY, id)
	val, err := rdd.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "definition", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rdd.encoderDecoder.Decode([]byte(val))
}

func (rdd *redisDefinitionDao) GetByNameVersion(name string, version int) (*model.Definition, error) {
	ctx := context.Background()
	versionsKey := rdd.getNamespaceKey(DEFINITION_VERSIONS_KEY, name)
	id, err := rdd.redisClient.HGet(ctx, versionsKey, strconv.Itoa(version)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "definition", Id: name + ":" + strconv.Itoa(version)}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rdd.Get(id)
}

func (rdd *redisDefinitionDao) GetLatestVersion(name string) (*model.Definition, error) {
	versions, err := rdd.ListVersions(name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, model.NotFoundError{Kind: "definition", Id: name}
	}
	return versions[len(versions)-1], nil
}

func (rdd *redisDefinitionDao) GetLatestActive(name string) (*model.Definition, error) {
	versions, err := rdd.ListVersions(name)
	if err != nil {
		return nil, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status == model.DEFINITION_ACTIVE {
			return versions[i], nil
		}
	}
	return nil, model.NotFoundError{Kind: "active definition", Id: name}
}

func (rdd *redisDefinitionDao) ListVersions(name string) ([]*model.Definition, error) {
	ctx := context.Background()
	versionsKey := rdd.getNamespaceKey(DEFINITION_VERSIONS_KEY, name)
	idsByVersion, err := rdd.redisClient.HGetAll(ctx, versionsKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	maxVersion := 0
	byVersion := make(map[int]string, len(idsByVersion))
	for versionStr, id := range idsByVersion {
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			continue
		}
		byVersion[version] = id
		if version > maxVersion {
			maxVersion = version
		}
	}
	defs := make([]*model.Definition, 0, len(byVersion))
	for v := 1; v <= maxVersion; v++ {
		id, ok := byVersion[v]
		if !ok {
			continue
		}
		def, err := rdd.Get(id)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (rdd *redisDefinitionDao) Delete(id string) error {
	def, err := rdd.Get(id)
	if err != nil {
		return err
	}
	ctx := context.Background()
	key := rdd.getNamespaceKey(DEFINITION_KEY, id)
	versionsKey := rdd.getNamespaceKey(DEFINITION_VERSIONS_KEY, def.Name)
	pipe := rdd.redisClient.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HDel(ctx, versionsKey, strconv.Itoa(def.Version))
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
