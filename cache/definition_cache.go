package cache

import (
	"fmt"
	"time"

	c "github.com/patrickmn/go-cache"
	"github.com/stepflow-io/stepflow/model"
)

// DefinitionCache is a read cache over definitions keyed by name:version.
// Steps are immutable once a definition is referenced, so only the status
// can go stale; entries expire quickly and status changes invalidate.
type DefinitionCache struct {
	cache *c.Cache
}

func NewDefinitionCache() *DefinitionCache {
	return &DefinitionCache{
		cache: c.New(1*time.Minute, 10*time.Minute),
	}
}

func key(name string, version int) string {
	return fmt.Sprintf("%s:%d", name, version)
}

func (ch *DefinitionCache) Get(name string, version int) (*model.Definition, bool) {
	val, found := ch.cache.Get(key(name, version))
	if !found {
		return nil, false
	}
	def, ok := val.(*model.Definition)
	return def, ok
}

func (ch *DefinitionCache) Put(def *model.Definition) {
	ch.cache.Set(key(def.Name, def.Version), def, c.DefaultExpiration)
}

func (ch *DefinitionCache) Invalidate(name string, version int) {
	ch.cache.Delete(key(name, version))
}
