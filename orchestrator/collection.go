package orchestrator

import "sync"

// Collection lazily maps a string key to its own Orchestrator, grounded on
// the teacher's lazy-create-on-miss map pattern in
// control_plane/scheduler/limiter.go (TokenBucketLimiter.limiters). Each
// entry is fully independent; no cross-key coordination lives here
// (distilled spec §4.C).
type Collection struct {
	mu      sync.Mutex
	entries map[string]*Orchestrator
	newFn   func(key string) *Orchestrator
}

// NewCollection creates a Collection that lazily builds a new Orchestrator
// for each unseen key using newFn.
func NewCollection(newFn func(key string) *Orchestrator) *Collection {
	return &Collection{
		entries: make(map[string]*Orchestrator),
		newFn:   newFn,
	}
}

// Get returns the orchestrator for key, creating it on first access.
func (c *Collection) Get(key string) *Orchestrator {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[key]
	if !ok {
		o = c.newFn(key)
		c.entries[key] = o
	}
	return o
}

// Peek returns the orchestrator for key without creating one, and whether
// it existed.
func (c *Collection) Peek(key string) (*Orchestrator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[key]
	return o, ok
}

// Keys returns a snapshot of all known keys.
func (c *Collection) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Reset clears the map; existing Orchestrator instances are discarded, not
// individually reset.
func (c *Collection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Orchestrator)
}
