package analysis

import (
	"sync"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
)

// ResultCache memoizes blob analysis outcomes across runs, keyed by
// blob id. Blob ids are content hashes, so a hit is always valid
// regardless of which repository produced it. The cache is safe for
// concurrent use; capacity is an entry count and zero disables caching
// entirely.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[gitobj.Hash]*resultEntry
	head     *resultEntry
	tail     *resultEntry
	hits     uint64
	misses   uint64
}

type resultEntry struct {
	id     gitobj.Hash
	result BlobResult
	prev   *resultEntry
	next   *resultEntry
}

// NewResultCache creates a cache holding at most capacity entries.
func NewResultCache(capacity int) *ResultCache {
	return &ResultCache{
		capacity: capacity,
		entries:  make(map[gitobj.Hash]*resultEntry),
	}
}

// Get returns the memoized result for id, marking it most recently
// used.
func (c *ResultCache) Get(id gitobj.Hash) (BlobResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		c.misses++

		return BlobResult{}, false
	}

	c.hits++
	c.moveToFront(entry)

	return entry.result, true
}

// Put stores the result for id, evicting the least recently used entry
// when the cache is full. Storing an id twice refreshes its position.
func (c *ResultCache) Put(id gitobj.Hash, result BlobResult) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[id]; ok {
		entry.result = result
		c.moveToFront(entry)

		return
	}

	for len(c.entries) >= c.capacity {
		c.evictTail()
	}

	entry := &resultEntry{id: id, result: result}
	c.entries[id] = entry
	c.pushFront(entry)
}

// Len returns the number of memoized entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *ResultCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses
}

func (c *ResultCache) pushFront(entry *resultEntry) {
	entry.next = c.head
	entry.prev = nil

	if c.head != nil {
		c.head.prev = entry
	}

	c.head = entry

	if c.tail == nil {
		c.tail = entry
	}
}

func (c *ResultCache) moveToFront(entry *resultEntry) {
	if entry == c.head {
		return
	}

	if entry.prev != nil {
		entry.prev.next = entry.next
	}

	if entry.next != nil {
		entry.next.prev = entry.prev
	}

	if entry == c.tail {
		c.tail = entry.prev
	}

	c.pushFront(entry)
}

func (c *ResultCache) evictTail() {
	victim := c.tail
	if victim == nil {
		return
	}

	delete(c.entries, victim.id)

	c.tail = victim.prev
	if c.tail != nil {
		c.tail.next = nil
	} else {
		c.head = nil
	}
}
