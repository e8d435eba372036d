package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
	"go.uber.org/zap"
)

const TIMER_KEY string = "TIMERS"

var _ persistence.TimerStorage = new(redisTimerDao)

// redisTimerDao keeps scheduled wake-ups in a sorted set scored by fire
// time in millis; PollDue drains everything due in one pipeline.
type redisTimerDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[persistence.TimerEntry]
}

func NewRedisTimerDao(baseDao *baseDao) *redisTimerDao {
	return &redisTimerDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[persistence.TimerEntry](),
	}
}

func (rt *redisTimerDao) Schedule(entry persistence.TimerEntry) error {
	ctx := context.Background()
	key := rt.getNamespaceKey(TIMER_KEY)
	data, err := rt.encoderDecoder.Encode(entry)
	if err != nil {
		return err
	}
	member := rd.Z{
		Score:  float64(entry.FireAt.UnixMilli()),
		Member: data,
	}
	if err := rt.redisClient.ZAdd(ctx, key, member).Err(); err != nil {
		logger.Error("error while scheduling timer", zap.String("instanceId", entry.InstanceId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rt *redisTimerDao) PollDue(now time.Time) ([]persistence.TimerEntry, error) {
	ctx := context.Background()
	key := rt.getNamespaceKey(TIMER_KEY)
	max := strconv.FormatInt(now.UnixMilli(), 10)
	pipe := rt.redisClient.Pipeline()
	opt := &rd.ZRangeBy{
		Min: "0",
		Max: max,
	}
	zr := pipe.ZRangeByScore(ctx, key, opt)
	pipe.ZRemRangeByScore(ctx, key, "0", max)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error while polling timers", zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	res, err := zr.Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	entries := make([]persistence.TimerEntry, 0, len(res))
	for _, raw := range res {
		entry, err := rt.encoderDecoder.Decode([]byte(raw))
		if err != nil {
			logger.Error("can not decode timer entry", zap.Error(err))
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}
