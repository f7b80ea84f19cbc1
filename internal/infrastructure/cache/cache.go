// Package cache provides a namespaced in-memory cache with TTL expiry,
// LRU eviction, and tag-based bulk invalidation. It sits in front of any
// component that would otherwise repeat an identical external call.
package cache

import (
	"sync"
	"time"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/ports"
)

// Manager holds one independent cache per namespace. Namespaces are
// created lazily with the configured bounds, or defaults when no config
// names them.
type Manager struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	configs    map[string]domain.CacheConfig
	clock      ports.Clock
	log        ports.Logger
}

const (
	defaultMaxSize = 256
	defaultTTL     = time.Hour
)

func New(configs map[string]domain.CacheConfig, clock ports.Clock, log ports.Logger) *Manager {
	return &Manager{
		namespaces: make(map[string]*namespace),
		configs:    configs,
		clock:      clock,
		log:        log,
	}
}

type namespace struct {
	mu      sync.Mutex
	name    string
	maxSize int
	ttl     time.Duration
	entries map[string]*domain.CacheEntry
	stats   domain.CacheStats
	clock   ports.Clock
}

// Get returns the cached value for key. A read past the entry's expiry is
// a miss and purges the entry.
func (m *Manager) Get(ns, key string) (any, bool) {
	n := m.namespace(ns)
	n.mu.Lock()
	defer n.mu.Unlock()

	entry, ok := n.entries[key]
	if !ok {
		n.stats.Misses++
		return nil, false
	}
	now := n.clock.Now()
	if now.After(entry.ExpiresAt) {
		delete(n.entries, key)
		n.stats.Misses++
		return nil, false
	}
	entry.LastAccessed = now
	n.stats.Hits++
	return entry.Value, true
}

// Set stores a value under key. A non-positive ttl falls back to the
// namespace default. Inserting past the size bound evicts the least
// recently accessed live entry first.
func (m *Manager) Set(ns, key string, value any, ttl time.Duration, tags ...string) {
	n := m.namespace(ns)
	n.mu.Lock()
	defer n.mu.Unlock()

	if ttl <= 0 {
		ttl = n.ttl
	}
	now := n.clock.Now()

	if _, exists := n.entries[key]; !exists && len(n.entries) >= n.maxSize {
		n.evictLocked(now)
	}
	n.entries[key] = &domain.CacheEntry{
		Key:          key,
		Value:        value,
		Tags:         tags,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
	}
}

// Invalidate removes a single key.
func (m *Manager) Invalidate(ns, key string) {
	n := m.namespace(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, key)
}

// InvalidateByTag removes every entry carrying the tag, in every
// namespace, and returns the number removed.
func (m *Manager) InvalidateByTag(tag string) int {
	m.mu.Lock()
	all := make([]*namespace, 0, len(m.namespaces))
	for _, n := range m.namespaces {
		all = append(all, n)
	}
	m.mu.Unlock()

	removed := 0
	for _, n := range all {
		n.mu.Lock()
		for key, entry := range n.entries {
			for _, t := range entry.Tags {
				if t == tag {
					delete(n.entries, key)
					removed++
					break
				}
			}
		}
		n.mu.Unlock()
	}
	if removed > 0 {
		m.log.Debug("cache tag invalidated", map[string]interface{}{
			"tag":     tag,
			"removed": removed,
		})
	}
	return removed
}

// Clear drops every entry in every namespace. Used for corruption
// recovery; counters survive the reset.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.namespaces {
		n.mu.Lock()
		n.entries = make(map[string]*domain.CacheEntry)
		n.mu.Unlock()
	}
	m.log.Warn("cache cleared", nil)
}

// Stats reports counters for every namespace touched so far.
func (m *Manager) Stats() []domain.CacheStats {
	m.mu.Lock()
	all := make([]*namespace, 0, len(m.namespaces))
	for _, n := range m.namespaces {
		all = append(all, n)
	}
	m.mu.Unlock()

	out := make([]domain.CacheStats, 0, len(all))
	for _, n := range all {
		n.mu.Lock()
		stats := n.stats
		stats.Size = len(n.entries)
		n.mu.Unlock()
		out = append(out, stats)
	}
	return out
}

func (m *Manager) namespace(name string) *namespace {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.namespaces[name]; ok {
		return n
	}
	cfg, ok := m.configs[name]
	if !ok {
		cfg = domain.CacheConfig{MaxSize: defaultMaxSize, DefaultTTL: domain.Duration(defaultTTL)}
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = domain.Duration(defaultTTL)
	}
	n := &namespace{
		name:    name,
		maxSize: cfg.MaxSize,
		ttl:     cfg.DefaultTTL.Std(),
		entries: make(map[string]*domain.CacheEntry),
		stats:   domain.CacheStats{Namespace: name},
		clock:   m.clock,
	}
	m.namespaces[name] = n
	return n
}

// evictLocked frees one slot: expired entries go first, then the least
// recently accessed live entry.
func (n *namespace) evictLocked(now time.Time) {
	for key, entry := range n.entries {
		if now.After(entry.ExpiresAt) {
			delete(n.entries, key)
			n.stats.Evictions++
			return
		}
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range n.entries {
		if oldestKey == "" || entry.LastAccessed.Before(oldest) {
			oldestKey = key
			oldest = entry.LastAccessed
		}
	}
	if oldestKey != "" {
		delete(n.entries, oldestKey)
		n.stats.Evictions++
	}
}
