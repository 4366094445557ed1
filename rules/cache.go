package rules

import "time"

// RulesCache caches the active-definition list so a full evaluation pass
// does not query the store every time. Implementations can be swapped for
// Redis or other backends.
type RulesCache interface {
	// Get retrieves cached definitions, nil on miss or expiry
	Get() []*RuleDefinition

	// Set stores definitions in cache
	Set(defs []*RuleDefinition)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid reports whether the cache holds usable data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the default catalog cache settings: no TTL,
// invalidated only when the catalog mutates.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
