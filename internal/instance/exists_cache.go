package instance

import (
	"sync"
	"time"

	"mrsm/internal/pipe"
)

// ExistsCacheTTL is the "cheap reachability check; cached 5s" interval
// of spec section 4.2's pipe_exists.
const ExistsCacheTTL = 5 * time.Second

// ExistsCache memoizes PipeExists results per pipe key, the same
// TTL-entry-map shape as pipe.ParameterCache but for a single bool
// rather than a full Parameters struct.
type ExistsCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]existsEntry
}

type existsEntry struct {
	exists  bool
	expires time.Time
}

// NewExistsCache builds a cache with the given ttl (ExistsCacheTTL if zero).
func NewExistsCache(ttl time.Duration) *ExistsCache {
	if ttl <= 0 {
		ttl = ExistsCacheTTL
	}
	return &ExistsCache{ttl: ttl, entries: make(map[string]existsEntry)}
}

// Get returns the cached existence result for k if still fresh,
// otherwise calls check, caches, and returns its result.
func (c *ExistsCache) Get(k pipe.Keys, check func() (bool, error)) (bool, error) {
	key := k.String()

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.exists, nil
	}

	exists, err := check()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.entries[key] = existsEntry{exists: exists, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return exists, nil
}

// Invalidate drops the cached entry for k, forcing the next Get to
// re-check. Callers should invalidate after register_pipe/drop_pipe.
func (c *ExistsCache) Invalidate(k pipe.Keys) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, k.String())
}
