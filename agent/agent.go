package agent

import (
	"sync"
	"time"

	"github.com/stepflow-io/stepflow/config"
	"github.com/stepflow-io/stepflow/engine"
	"github.com/stepflow-io/stepflow/evaluator"
	"github.com/stepflow-io/stepflow/executor"
	"github.com/stepflow-io/stepflow/graph"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/persistence/inmem"
	rd "github.com/stepflow-io/stepflow/persistence/redis"
	"github.com/stepflow-io/stepflow/rest"
	"github.com/stepflow-io/stepflow/service"
	"github.com/stepflow-io/stepflow/timers"
	"github.com/stepflow-io/stepflow/util"
)

// Agent wires storage, engine, timers and the http surface together and
// owns their lifecycle. All collaborators are injected here; nothing in
// the engine reaches for ambient singletons.
type Agent struct {
	Config            config.Config
	storage           persistence.Storage
	engine            *engine.Engine
	timerManager      *timers.TimerManager
	definitionService *service.DefinitionService
	instanceService   *service.InstanceService
	httpServer        *rest.Server
	registry          *executor.Registry
	shutdown          bool
	shutdownLock      sync.Mutex
	wg                sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupEngine,
		a.setupTimerManager,
		a.setupServices,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.storage = rd.NewRedisStorage(rd.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		})
	default:
		a.storage = inmem.NewStorage()
	}
	return nil
}

func (a *Agent) setupEngine() error {
	a.registry = executor.NewRegistry()
	resolver := graph.NewResolver(evaluator.NewJsEvaluator())
	retryConf := model.RetryConfig{
		MaxAttempts:       a.Config.RetryMaxAttempts,
		RetryAfterSeconds: a.Config.RetryAfterSeconds,
		Policy:            model.RetryPolicy(a.Config.RetryPolicy),
	}
	if retryConf.MaxAttempts <= 0 {
		retryConf = engine.DefaultRetryConfig()
	}
	a.engine = engine.New(a.storage, resolver, a.registry, executor.NewConfigAssigneeResolver(),
		retryConf, util.NewSystemClock(), a.Config.ActionExecutorCapacity, &a.wg)
	return nil
}

func (a *Agent) setupTimerManager() error {
	tick := time.Duration(a.Config.TimerTickSeconds) * time.Second
	if tick <= 0 {
		tick = time.Second
	}
	a.timerManager = timers.NewTimerManager(a.storage.Timers(), a.engine.FireTimer, util.NewSystemClock(), tick, &a.wg)
	return nil
}

func (a *Agent) setupServices() error {
	a.definitionService = service.NewDefinitionService(a.storage.Definitions(), a.storage.Instances(),
		a.engine.DefinitionCache(), util.NewSystemClock())
	a.instanceService = service.NewInstanceService(a.engine, a.storage)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.definitionService, a.instanceService)
	return err
}

// Registry exposes the handler registry so embedding applications can
// register task functions before Start.
func (a *Agent) Registry() *executor.Registry {
	return a.registry
}

func (a *Agent) Start() error {
	a.engine.Start()
	a.timerManager.Start()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.timerManager.Stop()
			return nil
		},
		func() error {
			a.engine.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	a.wg.Wait()
	return nil
}
