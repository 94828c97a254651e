package guard

import (
	"container/list"
	"sync"
	"time"
)

// IdempotencyStatus is the outcome of registering a client request key.
type IdempotencyStatus string

const (
	// IdempotencyNew means the key has not been seen and the request should
	// be processed.
	IdempotencyNew IdempotencyStatus = "new"
	// IdempotencyDuplicate means the key was seen within the TTL and the
	// request must be acknowledged without reprocessing.
	IdempotencyDuplicate IdempotencyStatus = "duplicate"
	// IdempotencyInvalid means the key exceeds the length cap.
	IdempotencyInvalid IdempotencyStatus = "invalid"
)

type idempotencyEntry struct {
	key     string
	seenAt  time.Time
	element *list.Element
}

// IdempotencyCache deduplicates client message keys per user within a TTL.
// Keys are scoped to the user so two users sending the same key never
// collide. Capacity is bounded by LRU eviction.
type IdempotencyCache struct {
	mu         sync.Mutex
	entries    map[string]*idempotencyEntry
	order      *list.List // front = most recent
	maxEntries int
	ttl        time.Duration
	maxKeyLen  int
	now        func() time.Time
}

// NewIdempotencyCache creates a bounded cache.
func NewIdempotencyCache(maxEntries int, ttl time.Duration, maxKeyLen int) *IdempotencyCache {
	return &IdempotencyCache{
		entries:    make(map[string]*idempotencyEntry),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		maxKeyLen:  maxKeyLen,
		now:        time.Now,
	}
}

// Register records the key for the user. Empty keys are always new: clients
// that do not send a key opt out of deduplication.
func (c *IdempotencyCache) Register(userID, key string) IdempotencyStatus {
	if key == "" {
		return IdempotencyNew
	}
	if len(key) > c.maxKeyLen {
		return IdempotencyInvalid
	}

	scoped := userID + ":" + key
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[scoped]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			// Duplicates refresh neither TTL nor recency: a retry storm on
			// one key cannot keep it pinned forever.
			return IdempotencyDuplicate
		}
		c.order.Remove(e.element)
		delete(c.entries, scoped)
	}

	for len(c.entries) >= c.maxEntries {
		back := c.order.Back()
		if back == nil {
			break
		}
		old := back.Value.(*idempotencyEntry)
		c.order.Remove(back)
		delete(c.entries, old.key)
	}

	e := &idempotencyEntry{key: scoped, seenAt: now}
	e.element = c.order.PushFront(e)
	c.entries[scoped] = e
	return IdempotencyNew
}

// Len returns the number of retained keys.
func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops expired entries. Called periodically by the server's
// housekeeping loop.
func (c *IdempotencyCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*idempotencyEntry)
		if now.Sub(e.seenAt) >= c.ttl {
			c.order.Remove(el)
			delete(c.entries, e.key)
			removed++
		}
		el = prev
	}
	return removed
}
