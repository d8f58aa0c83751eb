package matcher

import (
	"sync"

	"github.com/twmb/murmur3"
)

const platformIDSeed uint64 = 0x504c41545349474b

// PlatformID is the cache key for a platform, a hash of its name.
type PlatformID uint64

func PlatformIDFor(name string) PlatformID {
	return PlatformID(murmur3.SeedSum64(platformIDSeed, []byte(name)))
}

// Cache holds one matcher per platform. Building an index for an uncached
// platform is not deduplicated against concurrent builders; construction
// is a pure function of on-disk state, so the last insert winning is
// harmless. The caller must invalidate whenever the underlying signature
// files change; there is no file watching.
type Cache struct {
	cfg      Config
	matchers sync.Map // PlatformID -> *Matcher
}

func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg}
}

// Get returns the matcher for the platform, building and caching it on
// first need.
func (c *Cache) Get(platform string) *Matcher {
	id := PlatformIDFor(platform)
	if m, ok := c.matchers.Load(id); ok {
		return m.(*Matcher)
	}
	m := FromPlatform(c.cfg, platform)
	c.matchers.Store(id, m)
	return m
}

// Invalidate clears every cached platform matcher.
func (c *Cache) Invalidate() {
	c.matchers.Range(func(key, _ any) bool {
		c.matchers.Delete(key)
		return true
	})
}

// InvalidatePlatform clears a single platform's matcher.
func (c *Cache) InvalidatePlatform(name string) {
	c.matchers.Delete(PlatformIDFor(name))
}
