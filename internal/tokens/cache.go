package tokens

import "sync"

// Scope is the set of operations a token may call. An empty scope allows all.
type Scope map[string]bool

// Entry is one API token's settings.
type Entry struct {
	RateLimit int
	Scope     Scope
}

// Allows reports whether the entry may call op.
func (e Entry) Allows(op string) bool {
	if len(e.Scope) == 0 {
		return true
	}
	return e.Scope[op]
}

// Cache is the in-memory token table. A nil table means "never loaded".
type Cache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps in a copy of m.
func (c *Cache) Replace(m map[string]Entry) {
	next := make(map[string]Entry, len(m))
	for k, v := range m {
		next[k] = v
	}
	c.mu.Lock()
	c.m = next
	c.mu.Unlock()
}

// Ready returns true once the cache has been loaded at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m != nil
}

func (c *Cache) Lookup(token string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[token]
	return e, ok
}

func (c *Cache) Validate(token string) bool {
	_, ok := c.Lookup(token)
	return ok
}

// RateLimit returns the per-interval limit for token, 0 when unknown.
func (c *Cache) RateLimit(token string) int {
	e, _ := c.Lookup(token)
	return e.RateLimit
}
