package domain

import "time"

// CacheEntry is owned by the cache manager. Eviction and expiry are the
// only ways an entry disappears. Tags are many-to-many labels used purely
// for bulk invalidation, never for lookup.
type CacheEntry struct {
	Key          string    `json:"key"`
	Value        any       `json:"value"`
	Tags         []string  `json:"tags,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastAccessed time.Time `json:"last_accessed_at"`
}

// CacheStats are per-namespace hit/miss counters.
type CacheStats struct {
	Namespace string `json:"namespace"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
	Size      int    `json:"size"`
}
