package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/cache"
	"github.com/stepflow-io/stepflow/graph"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/persistence"
	"github.com/stepflow-io/stepflow/util"
	"go.uber.org/zap"
)

var definitionTransitions = map[model.DefinitionStatus]map[model.DefinitionStatus]bool{
	model.DEFINITION_DRAFT: {
		model.DEFINITION_ACTIVE:   true,
		model.DEFINITION_ARCHIVED: true,
	},
	model.DEFINITION_ACTIVE: {
		model.DEFINITION_INACTIVE: true,
		model.DEFINITION_ARCHIVED: true,
	},
	model.DEFINITION_INACTIVE: {
		model.DEFINITION_ACTIVE:   true,
		model.DEFINITION_ARCHIVED: true,
	},
}

// DefinitionService owns definition versioning and status management.
// Versions of one name are assigned here as a gapless sequence starting
// at 1; clients never pick version numbers.
type DefinitionService struct {
	definitions persistence.DefinitionStorage
	instances   persistence.InstanceStorage
	defCache    *cache.DefinitionCache
	clock       util.Clock
}

func NewDefinitionService(definitions persistence.DefinitionStorage, instances persistence.InstanceStorage,
	defCache *cache.DefinitionCache, clock util.Clock) *DefinitionService {
	return &DefinitionService{
		definitions: definitions,
		instances:   instances,
		defCache:    defCache,
		clock:       clock,
	}
}

// Create stores a new draft definition. The first version of a name gets
// version 1; later ones get latest+1.
func (s *DefinitionService) Create(def *model.Definition) (*model.Definition, error) {
	if err := graph.Validate(def); err != nil {
		return nil, err
	}
	version := 1
	latest, err := s.definitions.GetLatestVersion(def.Name)
	if err == nil {
		version = latest.Version + 1
	}
	now := s.clock.Now()
	def.Id = uuid.New().String()
	def.Version = version
	def.Status = model.DEFINITION_DRAFT
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := s.definitions.Save(def); err != nil {
		return nil, err
	}
	logger.Info("definition created", zap.String("name", def.Name), zap.Int("version", def.Version))
	return def, nil
}

// Update replaces a draft definition's steps and description. Once a
// definition leaves draft its steps are immutable; only status moves.
func (s *DefinitionService) Update(id string, steps []model.Step, description string, updatedBy string) (*model.Definition, error) {
	def, err := s.definitions.Get(id)
	if err != nil {
		return nil, err
	}
	if def.Status != model.DEFINITION_DRAFT {
		return nil, model.ValidationError{Message: fmt.Sprintf("definition %s version %d is %s and can not be edited", def.Name, def.Version, def.Status)}
	}
	updated := *def
	updated.Steps = steps
	updated.Description = description
	updated.UpdatedBy = updatedBy
	updated.UpdatedAt = s.clock.Now()
	if err := graph.Validate(&updated); err != nil {
		return nil, err
	}
	if err := s.definitions.Save(&updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *DefinitionService) transition(id string, to model.DefinitionStatus) (*model.Definition, error) {
	def, err := s.definitions.Get(id)
	if err != nil {
		return nil, err
	}
	if !definitionTransitions[def.Status][to] {
		return nil, model.InvalidTransitionError{Entity: "definition", From: string(def.Status), To: string(to)}
	}
	def.Status = to
	def.UpdatedAt = s.clock.Now()
	if err := s.definitions.Save(def); err != nil {
		return nil, err
	}
	s.defCache.Invalidate(def.Name, def.Version)
	logger.Info("definition status changed", zap.String("name", def.Name), zap.Int("version", def.Version), zap.String("status", string(to)))
	return def, nil
}

// Activate validates the step graph once more and moves the definition to
// active; malformed graphs never become startable.
func (s *DefinitionService) Activate(id string) (*model.Definition, error) {
	def, err := s.definitions.Get(id)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(def); err != nil {
		return nil, err
	}
	return s.transition(id, model.DEFINITION_ACTIVE)
}

func (s *DefinitionService) Deactivate(id string) (*model.Definition, error) {
	return s.transition(id, model.DEFINITION_INACTIVE)
}

func (s *DefinitionService) Archive(id string) (*model.Definition, error) {
	return s.transition(id, model.DEFINITION_ARCHIVED)
}

func (s *DefinitionService) Get(id string) (*model.Definition, error) {
	return s.definitions.Get(id)
}

func (s *DefinitionService) GetByNameVersion(name string, version int) (*model.Definition, error) {
	return s.definitions.GetByNameVersion(name, version)
}

func (s *DefinitionService) GetLatestVersion(name string) (*model.Definition, error) {
	return s.definitions.GetLatestVersion(name)
}

func (s *DefinitionService) GetLatestActive(name string) (*model.Definition, error) {
	return s.definitions.GetLatestActive(name)
}

func (s *DefinitionService) ListVersions(name string) ([]*model.Definition, error) {
	return s.definitions.ListVersions(name)
}

// Delete refuses to remove a definition that still has instances; owners
// of history must archive instead.
func (s *DefinitionService) Delete(id string) error {
	def, err := s.definitions.Get(id)
	if err != nil {
		return err
	}
	count, err := s.instances.CountByDefinition(def.Name, def.Version)
	if err != nil {
		return err
	}
	if count > 0 {
		return model.ValidationError{Message: fmt.Sprintf("definition %s version %d has %d instances and can not be deleted", def.Name, def.Version, count)}
	}
	s.defCache.Invalidate(def.Name, def.Version)
	return s.definitions.Delete(id)
}
