package kms

import (
	"fmt"

	"github.com/cube-wm/cubed/cache"
	"github.com/cube-wm/cubed/internal/drmioctl"
)

// propertyCache resolves a KMS object's property name to its property ID,
// memoized across frames. Property IDs are stable for the lifetime of a
// device, so a cache miss only ever occurs once per (object, name) pair;
// grounded on the teacher's generic cache.ShardedCache rather than a plain
// map, matching how the rest of the pack reaches for the sharded cache
// whenever a lookup is hot-path and read-mostly.
type propertyCache struct {
	dev   *drmioctl.Device
	cache *cache.ShardedCache[string, uint32]
}

func newPropertyCache(dev *drmioctl.Device) *propertyCache {
	return &propertyCache{dev: dev, cache: cache.NewSharded[string, uint32](64, cache.StringHasher)}
}

// resolve returns the property ID for name on objID/objType, fetching and
// caching the object's full property list on first use.
func (p *propertyCache) resolve(objID, objType uint32, name string) (uint32, error) {
	key := fmt.Sprintf("%d:%s", objID, name)
	if id, ok := p.cache.Get(key); ok {
		return id, nil
	}

	ids, _, err := p.dev.ObjectProperties(objID, objType)
	if err != nil {
		return 0, fmt.Errorf("kms: resolve property %q on object %d: %w", name, objID, err)
	}
	for _, id := range ids {
		n, err := p.dev.GetPropertyName(id)
		if err != nil {
			continue
		}
		p.cache.Set(fmt.Sprintf("%d:%s", objID, n), id)
	}

	if id, ok := p.cache.Get(key); ok {
		return id, nil
	}
	return 0, fmt.Errorf("kms: object %d has no property %q", objID, name)
}
