package inspectors

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
)

// DecisionCache is a TTL cache keyed on the inspection payload, used to skip
// repeated round-trips for identical conversations. Off by default; a
// wrapper opts in by handing an instance to its inspector.
type DecisionCache struct {
	entries sync.Map
	ttl     time.Duration
	maxSize int
	count   atomic.Int64
}

// cacheEntry is a cached decision with expiry.
type cacheEntry struct {
	decision  agentsec.Decision
	expiresAt time.Time
}

// NewDecisionCache builds a cache with the given entry TTL and size cap.
// Non-positive values fall back to 5s and 1000 entries.
func NewDecisionCache(ttl time.Duration, maxSize int) *DecisionCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DecisionCache{ttl: ttl, maxSize: maxSize}
}

// key hashes the payload with xxhash.
func (c *DecisionCache) key(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}

// Get returns the cached decision for a payload, if present and fresh.
func (c *DecisionCache) Get(payload []byte) (agentsec.Decision, bool) {
	v, ok := c.entries.Load(c.key(payload))
	if !ok {
		return agentsec.Decision{}, false
	}
	entry := v.(cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.entries.Delete(c.key(payload))
		c.count.Add(-1)
		return agentsec.Decision{}, false
	}
	return entry.decision, true
}

// Put stores a decision for a payload. When the cache is full, expired
// entries are evicted first; if none are expired, the write is dropped.
func (c *DecisionCache) Put(payload []byte, decision agentsec.Decision) {
	if c.count.Load() >= int64(c.maxSize) {
		c.evictExpired()
		if c.count.Load() >= int64(c.maxSize) {
			return
		}
	}
	k := c.key(payload)
	if _, loaded := c.entries.LoadOrStore(k, cacheEntry{
		decision:  decision,
		expiresAt: time.Now().Add(c.ttl),
	}); !loaded {
		c.count.Add(1)
	}
}

func (c *DecisionCache) evictExpired() {
	now := time.Now()
	c.entries.Range(func(k, v any) bool {
		if now.After(v.(cacheEntry).expiresAt) {
			c.entries.Delete(k)
			c.count.Add(-1)
		}
		return true
	})
}

// Len returns the current entry count.
func (c *DecisionCache) Len() int {
	return int(c.count.Load())
}
