package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(maxSize int, ttl time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	configs := map[string]domain.CacheConfig{
		"analysis": {MaxSize: maxSize, DefaultTTL: domain.Duration(ttl)},
	}
	return New(configs, clock, logger.NewStd(false)), clock
}

func TestLRUEvictionPrefersLeastRecentlyAccessed(t *testing.T) {
	m, clock := newManager(2, time.Hour)

	m.Set("analysis", "A", 1, 0)
	clock.advance(time.Second)
	m.Set("analysis", "B", 2, 0)
	clock.advance(time.Second)

	// Touch A so B becomes the least recently used.
	if _, ok := m.Get("analysis", "A"); !ok {
		t.Fatalf("A should be present")
	}
	clock.advance(time.Second)

	m.Set("analysis", "C", 3, 0)

	if _, ok := m.Get("analysis", "A"); !ok {
		t.Fatalf("A should survive eviction")
	}
	if _, ok := m.Get("analysis", "C"); !ok {
		t.Fatalf("C should be present")
	}
	if _, ok := m.Get("analysis", "B"); ok {
		t.Fatalf("B should have been evicted")
	}
}

func TestLazyTTLExpiry(t *testing.T) {
	m, clock := newManager(10, time.Minute)

	m.Set("analysis", "k", "v", 0)
	if _, ok := m.Get("analysis", "k"); !ok {
		t.Fatalf("fresh entry should hit")
	}

	clock.advance(2 * time.Minute)
	if _, ok := m.Get("analysis", "k"); ok {
		t.Fatalf("expired entry should miss")
	}
}

func TestExpiredEntriesEvictedBeforeLiveOnes(t *testing.T) {
	m, clock := newManager(2, time.Hour)

	m.Set("analysis", "stale", 1, time.Minute)
	clock.advance(time.Second)
	m.Set("analysis", "live", 2, time.Hour)
	clock.advance(2 * time.Minute) // stale is now past its ttl

	m.Set("analysis", "new", 3, time.Hour)

	if _, ok := m.Get("analysis", "live"); !ok {
		t.Fatalf("live entry should survive when an expired one can go instead")
	}
	if _, ok := m.Get("analysis", "new"); !ok {
		t.Fatalf("new entry should be present")
	}
}

func TestInvalidateByTagSpansNamespaces(t *testing.T) {
	m, _ := newManager(10, time.Hour)

	m.Set("analysis", "a1", 1, 0, "repo:x")
	m.Set("analysis", "a2", 2, 0, "repo:y")
	m.Set("review", "r1", 3, 0, "repo:x")

	if removed := m.InvalidateByTag("repo:x"); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, ok := m.Get("analysis", "a1"); ok {
		t.Fatalf("a1 should be gone")
	}
	if _, ok := m.Get("review", "r1"); ok {
		t.Fatalf("r1 should be gone")
	}
	if _, ok := m.Get("analysis", "a2"); !ok {
		t.Fatalf("a2 should remain")
	}
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	m, _ := newManager(10, time.Hour)

	m.Set("analysis", "k", "v", 0)
	m.Get("analysis", "k")
	m.Get("analysis", "k")
	m.Get("analysis", "absent")

	var stats domain.CacheStats
	for _, s := range m.Stats() {
		if s.Namespace == "analysis" {
			stats = s
		}
	}
	if stats.Hits != 2 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("stats = %+v, want 2 hits, 1 miss, size 1", stats)
	}
}

func TestClearResetsEntriesNotCounters(t *testing.T) {
	m, _ := newManager(10, time.Hour)

	m.Set("analysis", "k", "v", 0)
	m.Get("analysis", "k")
	m.Clear()

	if _, ok := m.Get("analysis", "k"); ok {
		t.Fatalf("entries should be gone after Clear")
	}
	for _, s := range m.Stats() {
		if s.Namespace == "analysis" && s.Hits != 1 {
			t.Fatalf("hit counter should survive Clear, got %+v", s)
		}
	}
}
