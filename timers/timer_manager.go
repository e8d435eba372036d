package timers

import (
	"sync"
	"time"

	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
	"go.uber.org/zap"
)

// FireFunc is invoked for each due timer entry; the engine's FireTimer
// satisfies it.
type FireFunc func(instanceId string, executionId string) error

// TimerManager polls the durable due set and fires entries that have come
// due. No busy-polling of individual timers: one tick drains everything
// due at once.
type TimerManager struct {
	storage persistence.TimerStorage
	fire    FireFunc
	clock   util.Clock
	stop    chan struct{}
	worker  *util.TickWorker
}

func NewTimerManager(storage persistence.TimerStorage, fire FireFunc, clock util.Clock, tick time.Duration, wg *sync.WaitGroup) *TimerManager {
	tm := &TimerManager{
		storage: storage,
		fire:    fire,
		clock:   clock,
		stop:    make(chan struct{}),
	}
	tm.worker = util.NewTickWorker("timer-manager", tick, tm.stop, tm.poll, wg)
	return tm
}

func (tm *TimerManager) Start() {
	tm.worker.Start()
}

func (tm *TimerManager) Stop() {
	tm.stop <- struct{}{}
}

func (tm *TimerManager) poll() {
	entries, err := tm.storage.PollDue(tm.clock.Now())
	if err != nil {
		logger.Error("error while polling due timers", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if err := tm.fire(entry.InstanceId, entry.ExecutionId); err != nil {
			logger.Error("error firing timer", zap.String("instanceId", entry.InstanceId),
				zap.String("executionId", entry.ExecutionId), zap.Error(err))
		}
	}
}
