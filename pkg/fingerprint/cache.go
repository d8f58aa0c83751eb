package fingerprint

import (
	"fmt"
	"sync"

	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/signature"
	"golang.org/x/sync/singleflight"
)

type funcKey struct {
	view  disass.View
	start uint64
}

// Cache computes function fingerprints at most once per function. Lookups
// for different functions never block each other; racing lookups for the
// same function are collapsed into a single computation. It is the
// caller's responsibility to drop or invalidate the cache when the
// underlying analysis changes.
type Cache struct {
	guids sync.Map // funcKey -> signature.GUID
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{}
}

// FunctionGUID returns the cached fingerprint for fn, computing it first
// if needed.
func (c *Cache) FunctionGUID(fn disass.Function) (signature.GUID, error) {
	key := funcKey{view: fn.View(), start: fn.Start()}
	if guid, ok := c.guids.Load(key); ok {
		return guid.(signature.GUID), nil
	}
	// The singleflight key only identifies the cache slot; addresses never
	// reach the hash input.
	flight := fmt.Sprintf("%p:%#x", fn.View(), fn.Start())
	guid, err, _ := c.group.Do(flight, func() (any, error) {
		if guid, ok := c.guids.Load(key); ok {
			return guid.(signature.GUID), nil
		}
		guid, err := Function(fn)
		if err != nil {
			return signature.GUID{}, err
		}
		c.guids.Store(key, guid)
		return guid, nil
	})
	if err != nil {
		return signature.GUID{}, err
	}
	return guid.(signature.GUID), nil
}

// Invalidate clears every cached fingerprint.
func (c *Cache) Invalidate() {
	c.guids.Range(func(key, _ any) bool {
		c.guids.Delete(key)
		return true
	})
}
