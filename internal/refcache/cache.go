// Package refcache implements the bounded, time-limited store that resolves
// an opaque message identifier to the container context needed to mutate it.
//
// Platforms such as Slack address a message by (channel, timestamp), so a
// bare message id is not enough to edit or delete it. Adapters for those
// platforms record the context of every message they send or receive here,
// and consult it when a caller passes only the string identifier. Callers
// holding the full message never hit the cache at all.
//
// Entries are evicted by whichever fires first: least-recently-used order
// once capacity is exceeded, or per-entry TTL. All state is in-memory and
// process-lifetime scoped.
package refcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/keepmind9/chatbridge/pkg/constants"
	"github.com/sirupsen/logrus"
)

// Context is the cached resolution target for a message id. It is created
// from a normalized message at send/receive time and immutable afterwards.
type Context struct {
	ChannelID string
	ThreadID  string
	Timestamp time.Time
}

type entry struct {
	id         string
	ctx        Context
	insertedAt time.Time
}

// Cache is a capacity-bounded LRU store with a fixed per-entry TTL.
// It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	platform string
	capacity int
	ttl      time.Duration

	entries map[string]*list.Element
	order   *list.List // front = most recently used

	// Monotonic, process-lifetime counters. Never reset by eviction.
	hits   uint64
	misses uint64

	now func() time.Time
}

// New creates a cache for the given platform. Non-positive capacity or TTL
// fall back to the defaults.
func New(platform string, capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = constants.DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}
	return &Cache{
		platform: platform,
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Put records the mutation context for a message id. An existing entry for
// the same id is unconditionally overwritten and its age restarts.
func (c *Cache) Put(id string, ctx Context) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		elem.Value.(*entry).ctx = ctx
		elem.Value.(*entry).insertedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	c.entries[id] = c.order.PushFront(&entry{
		id:         id,
		ctx:        ctx,
		insertedAt: c.now(),
	})

	for len(c.entries) > c.capacity {
		c.evictOldest()
	}
}

// Resolve looks up the mutation context for a message id. A hit refreshes
// the entry's LRU recency. A miss — absent entry or one older than the TTL —
// returns a CacheMissError telling the caller to pass the full message.
func (c *Cache) Resolve(id string) (Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[id]
	if ok {
		ent := elem.Value.(*entry)
		if c.now().Sub(ent.insertedAt) <= c.ttl {
			c.hits++
			c.order.MoveToFront(elem)
			c.maybeReportHitRate()
			return ent.ctx, nil
		}
		// Expired: drop it so it does not occupy a slot.
		c.removeElement(elem)
	}

	c.misses++
	c.maybeReportHitRate()
	return Context{}, &result.CacheMissError{Platform: c.platform, MessageID: id}
}

// Remove deletes the entry for a message id, if present. Called when the
// referenced message is deleted so a stale context can never be resolved.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	ent := oldest.Value.(*entry)
	c.removeElement(oldest)

	logger.WithFields(logrus.Fields{
		"platform":   c.platform,
		"message_id": ent.id,
		"capacity":   c.capacity,
	}).Debug("refcache-evicted-lru-entry")
}

func (c *Cache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*entry).id)
}

// maybeReportHitRate emits the cumulative hit rate at a fixed resolution
// interval. Caller must hold c.mu.
func (c *Cache) maybeReportHitRate() {
	total := c.hits + c.misses
	if total == 0 || total%constants.CacheStatsInterval != 0 {
		return
	}
	logger.WithFields(logrus.Fields{
		"platform":    c.platform,
		"resolutions": total,
		"hits":        c.hits,
		"misses":      c.misses,
		"hit_rate":    float64(c.hits) / float64(total),
	}).Info("refcache-hit-rate")
}
