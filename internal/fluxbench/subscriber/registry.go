package subscriber

import (
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/renstrom/shortuuid"
)

// DefaultIdPrefix prefixes generated subscriber ids.
const DefaultIdPrefix = "fluxbench-sub"

// IdRegistry hands out subscriber ids that are unique for the lifetime of the registry.
// Ids are never released, so an id is not reused even after its connection closes.
type IdRegistry struct {
	ids *cache.Cache
}

func NewIdRegistry() *IdRegistry {
	return &IdRegistry{ids: cache.New(cache.NoExpiration, 0)}
}

// Generate claims a fresh id of the form <prefix>-<shortuuid>.
func (r *IdRegistry) Generate(prefix string) string {
	if prefix == "" {
		prefix = DefaultIdPrefix
	}
	for {
		id := fmt.Sprintf("%s-%s", prefix, shortuuid.New())
		// Add fails if the key is already present.
		if err := r.ids.Add(id, struct{}{}, cache.NoExpiration); err == nil {
			return id
		}
	}
}

func (r *IdRegistry) contains(id string) bool {
	_, ok := r.ids.Get(id)
	return ok
}

// Len is the number of ids issued so far.
func (r *IdRegistry) Len() int {
	return r.ids.ItemCount()
}
