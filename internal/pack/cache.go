package pack

import (
	"sync"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
)

// DefaultBaseCacheBytes is the default memory cap for the delta-base cache
// (2 MiB). Sized so common subtrees shared across commits stay resident
// during a whole traversal.
const DefaultBaseCacheBytes = 2 * 1024 * 1024

// BaseCache caches fully-decoded objects by pack offset so that resolving
// deep delta chains costs close to linear in chain length instead of
// quadratic. Implementations decide what to keep; losing entries is always
// safe, only slower.
type BaseCache interface {
	// Get returns the cached object at offset, if present.
	Get(offset int64) (gitobj.Kind, []byte, bool)
	// Put offers a decoded object for caching. The cache takes ownership
	// of data; callers must not modify it afterwards.
	Put(offset int64, kind gitobj.Kind, data []byte)
}

// Never is a BaseCache that stores nothing. It suits decode paths that
// look up each object exactly once, where caching is pure overhead.
type Never struct{}

// Get always misses.
func (Never) Get(int64) (gitobj.Kind, []byte, bool) { return gitobj.KindInvalid, nil, false }

// Put discards the object.
func (Never) Put(int64, gitobj.Kind, []byte) {}

// DeltaBaseCache is a memory-capped LRU cache of decoded objects keyed by
// pack offset. Eviction drops the least recently used entries until the
// byte cap is satisfied.
type DeltaBaseCache struct {
	mu          sync.Mutex
	entries     map[int64]*baseEntry
	head        *baseEntry // Most recently used.
	tail        *baseEntry // Least recently used.
	maxBytes    int64
	currentSize int64

	hits   int64
	misses int64
}

// baseEntry is a doubly-linked list node for LRU tracking.
type baseEntry struct {
	offset int64
	kind   gitobj.Kind
	data   []byte
	prev   *baseEntry
	next   *baseEntry
}

// NewDeltaBaseCache creates a delta-base cache capped at maxBytes of
// decoded object data.
func NewDeltaBaseCache(maxBytes int64) *DeltaBaseCache {
	if maxBytes <= 0 {
		maxBytes = DefaultBaseCacheBytes
	}

	return &DeltaBaseCache{
		entries:  make(map[int64]*baseEntry),
		maxBytes: maxBytes,
	}
}

// Get returns the cached object at offset, marking it most recently used.
func (c *DeltaBaseCache) Get(offset int64) (gitobj.Kind, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[offset]
	if !ok {
		c.misses++

		return gitobj.KindInvalid, nil, false
	}

	c.hits++
	c.moveToFront(entry)

	return entry.kind, entry.data, true
}

// Put inserts a decoded object, evicting least recently used entries until
// the byte cap is satisfied. Objects larger than the whole cache are not
// stored.
func (c *DeltaBaseCache) Put(offset int64, kind gitobj.Kind, data []byte) {
	size := int64(len(data))
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[offset]; ok {
		c.moveToFront(entry)

		return
	}

	for c.currentSize+size > c.maxBytes && c.tail != nil {
		c.evictTail()
	}

	entry := &baseEntry{
		offset: offset,
		kind:   kind,
		data:   data,
	}

	c.entries[offset] = entry
	c.currentSize += size
	c.addToFront(entry)
}

// Stats returns cumulative hit and miss counts.
func (c *DeltaBaseCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses
}

func (c *DeltaBaseCache) moveToFront(entry *baseEntry) {
	if entry == c.head {
		return
	}

	c.removeFromList(entry)
	c.addToFront(entry)
}

func (c *DeltaBaseCache) addToFront(entry *baseEntry) {
	entry.prev = nil
	entry.next = c.head

	if c.head != nil {
		c.head.prev = entry
	}

	c.head = entry

	if c.tail == nil {
		c.tail = entry
	}
}

func (c *DeltaBaseCache) removeFromList(entry *baseEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.head = entry.next
	}

	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.tail = entry.prev
	}
}

func (c *DeltaBaseCache) evictTail() {
	victim := c.tail
	if victim == nil {
		return
	}

	c.removeFromList(victim)
	delete(c.entries, victim.offset)
	c.currentSize -= int64(len(victim.data))
}
