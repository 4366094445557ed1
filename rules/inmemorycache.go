package rules

import (
	"sync"
	"time"
)

// InMemoryRulesCache is a mutex-guarded in-process RulesCache.
type InMemoryRulesCache struct {
	defs     []*RuleDefinition
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	valid    bool
}

// NewInMemoryRulesCache creates an empty, invalid cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config}
}

// Get returns the cached definitions, or nil when the cache is invalid or
// past its TTL. The returned slice is a copy; callers may not mutate the
// cached list.
func (c *InMemoryRulesCache) Get() []*RuleDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	out := make([]*RuleDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Set stores a copy of the definitions and marks the cache valid.
func (c *InMemoryRulesCache) Set(defs []*RuleDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defs = make([]*RuleDefinition, len(defs))
	copy(c.defs, defs)
	c.cachedAt = time.Now()
	c.valid = true
}

// Invalidate clears the cache.
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.defs = nil
}

// IsValid reports whether the cache holds unexpired data.
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
