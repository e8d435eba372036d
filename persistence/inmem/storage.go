package inmem

import (
	"sort"
	"sync"
	"time"

	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
)

// Storage is the in-memory implementation used for development and tests.
// Values are copied through the JSON codec on the way in and out so callers
// never share mutable state with the store.
type Storage struct {
	definitions *definitionStore
	instances   *instanceStore
	executions  *executionStore
	assignments *assignmentStore
	timers      *timerStore
}

var _ persistence.Storage = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		definitions: &definitionStore{
			byId:       make(map[string]*model.Definition),
			byName:     make(map[string]map[int]string),
			encoderDec: util.NewJsonEncoderDecoder[model.Definition](),
		},
		instances: &instanceStore{
			byId:       make(map[string]*model.Instance),
			locks:      make(map[string]*sync.Mutex),
			encoderDec: util.NewJsonEncoderDecoder[model.Instance](),
		},
		executions: &executionStore{
			byId:       make(map[string]*model.Execution),
			encoderDec: util.NewJsonEncoderDecoder[model.Execution](),
		},
		assignments: &assignmentStore{
			byId:       make(map[string]*model.Assignment),
			encoderDec: util.NewJsonEncoderDecoder[model.Assignment](),
		},
		timers: &timerStore{},
	}
}

func (s *Storage) Definitions() persistence.DefinitionStorage { return s.definitions }
func (s *Storage) Instances() persistence.InstanceStorage     { return s.instances }
func (s *Storage) Executions() persistence.ExecutionStorage   { return s.executions }
func (s *Storage) Assignments() persistence.AssignmentStorage { return s.assignments }
func (s *Storage) Timers() persistence.TimerStorage           { return s.timers }

type definitionStore struct {
	mu         sync.RWMutex
	byId       map[string]*model.Definition
	byName     map[string]map[int]string
	encoderDec util.EncoderDecoder[model.Definition]
}

func (ds *definitionStore) copy(def *model.Definition) *model.Definition {
	data, _ := ds.encoderDec.Encode(*def)
	out, _ := ds.encoderDec.Decode(data)
	return out
}

func (ds *definitionStore) Save(def *model.Definition) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.byId[def.Id] = ds.copy(def)
	versions, ok := ds.byName[def.Name]
	if !ok {
		versions = make(map[int]string)
		ds.byName[def.Name] = versions
	}
	versions[def.Version] = def.Id
	return nil
}

func (ds *definitionStore) Get(id string) (*model.Definition, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	def, ok := ds.byId[id]
	if !ok {
		return nil, model.NotFoundError{Kind: "definition", Id: id}
	}
	return ds.copy(def), nil
}

func (ds *definitionStore) GetByNameVersion(name string, version int) (*model.Definition, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	id, ok := ds.byName[name][version]
	if !ok {
		return nil, model.NotFoundError{Kind: "definition", Id: name}
	}
	return ds.copy(ds.byId[id]), nil
}

func (ds *definitionStore) GetLatestVersion(name string) (*model.Definition, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	var latest *model.Definition
	for _, id := range ds.byName[name] {
		def := ds.byId[id]
		if latest == nil || def.Version > latest.Version {
			latest = def
		}
	}
	if latest == nil {
		return nil, model.NotFoundError{Kind: "definition", Id: name}
	}
	return ds.copy(latest), nil
}

func (ds *definitionStore) GetLatestActive(name string) (*model.Definition, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	var latest *model.Definition
	for _, id := range ds.byName[name] {
		def := ds.byId[id]
		if def.Status != model.DEFINITION_ACTIVE {
			continue
		}
		if latest == nil || def.Version > latest.Version {
			latest = def
		}
	}
	if latest == nil {
		return nil, model.NotFoundError{Kind: "active definition", Id: name}
	}
	return ds.copy(latest), nil
}

func (ds *definitionStore) ListVersions(name string) ([]*model.Definition, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	defs := make([]*model.Definition, 0, len(ds.byName[name]))
	for _, id := range ds.byName[name] {
		defs = append(defs, ds.copy(ds.byId[id]))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Version < defs[j].Version })
	return defs, nil
}

func (ds *definitionStore) Delete(id string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	def, ok := ds.byId[id]
	if !ok {
		return model.NotFoundError{Kind: "definition", Id: id}
	}
	delete(ds.byName[def.Name], def.Version)
	delete(ds.byId, id)
	return nil
}

type instanceStore struct {
	mu         sync.RWMutex
	byId       map[string]*model.Instance
	locks      map[string]*sync.Mutex
	encoderDec util.EncoderDecoder[model.Instance]
}

func (is *instanceStore) copy(instance *model.Instance) *model.Instance {
	data, _ := is.encoderDec.Encode(*instance)
	out, _ := is.encoderDec.Decode(data)
	return out
}

func (is *instanceStore) Save(instance *model.Instance) error {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.byId[instance.Id] = is.copy(instance)
	return nil
}

func (is *instanceStore) Get(id string) (*model.Instance, error) {
	is.mu.RLock()
	defer is.mu.RUnlock()
	instance, ok := is.byId[id]
	if !ok {
		return nil, model.NotFoundError{Kind: "instance", Id: id}
	}
	return is.copy(instance), nil
}

func (is *instanceStore) ListByDefinition(name string, version int) ([]*model.Instance, error) {
	is.mu.RLock()
	defer is.mu.RUnlock()
	var instances []*model.Instance
	for _, instance := range is.byId {
		if instance.DefinitionName == name && instance.DefinitionVersion == version {
			instances = append(instances, is.copy(instance))
		}
	}
	return instances, nil
}

func (is *instanceStore) CountByDefinition(name string, version int) (int, error) {
	instances, err := is.ListByDefinition(name, version)
	if err != nil {
		return 0, err
	}
	return len(instances), nil
}

func (is *instanceStore) Lock(id string) (func(), error) {
	is.mu.Lock()
	lock, ok := is.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		is.locks[id] = lock
	}
	is.mu.Unlock()
	lock.Lock()
	return lock.Unlock, nil
}

type executionStore struct {
	mu         sync.RWMutex
	byId       map[string]*model.Execution
	encoderDec util.EncoderDecoder[model.Execution]
}

func (es *executionStore) copy(execution *model.Execution) *model.Execution {
	data, _ := es.encoderDec.Encode(*execution)
	out, _ := es.encoderDec.Decode(data)
	return out
}

func (es *executionStore) Save(execution *model.Execution) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.byId[execution.Id] = es.copy(execution)
	return nil
}

func (es *executionStore) Get(id string) (*model.Execution, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	execution, ok := es.byId[id]
	if !ok {
		return nil, model.NotFoundError{Kind: "execution", Id: id}
	}
	return es.copy(execution), nil
}

func (es *executionStore) ListByInstance(instanceId string) ([]*model.Execution, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	var executions []*model.Execution
	for _, execution := range es.byId {
		if execution.InstanceId == instanceId {
			executions = append(executions, es.copy(execution))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
	return executions, nil
}

type assignmentStore struct {
	mu         sync.RWMutex
	byId       map[string]*model.Assignment
	encoderDec util.EncoderDecoder[model.Assignment]
}

func (as *assignmentStore) copy(assignment *model.Assignment) *model.Assignment {
	data, _ := as.encoderDec.Encode(*assignment)
	out, _ := as.encoderDec.Decode(data)
	return out
}

func (as *assignmentStore) Save(assignment *model.Assignment) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.byId[assignment.Id] = as.copy(assignment)
	return nil
}

func (as *assignmentStore) Get(id string) (*model.Assignment, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	assignment, ok := as.byId[id]
	if !ok {
		return nil, model.NotFoundError{Kind: "assignment", Id: id}
	}
	return as.copy(assignment), nil
}

func (as *assignmentStore) ListByExecution(executionId string) ([]*model.Assignment, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	var assignments []*model.Assignment
	for _, assignment := range as.byId {
		if assignment.ExecutionId == executionId {
			assignments = append(assignments, as.copy(assignment))
		}
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.Before(assignments[j].AssignedAt)
	})
	return assignments, nil
}

func (as *assignmentStore) GetActiveByExecution(executionId string) (*model.Assignment, error) {
	assignments, err := as.ListByExecution(executionId)
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

type timerStore struct {
	mu      sync.Mutex
	entries []persistence.TimerEntry
}

func (ts *timerStore) Schedule(entry persistence.TimerEntry) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.entries = append(ts.entries, entry)
	return nil
}

func (ts *timerStore) PollDue(now time.Time) ([]persistence.TimerEntry, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var due []persistence.TimerEntry
	var rest []persistence.TimerEntry
	for _, entry := range ts.entries {
		if !entry.FireAt.After(now) {
			due = append(due, entry)
		} else {
			rest = append(rest, entry)
		}
	}
	ts.entries = rest
	return due, nil
}
