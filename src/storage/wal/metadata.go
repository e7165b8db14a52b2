package wal

import (
	"container/list"
	"sync"

	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// TransactionMetadata is where a committed transaction's entry starts and the
// checksum its commit marker carries.
type TransactionMetadata struct {
	Position common.LogPosition
	Checksum common.Checksum
}

// TransactionMetadataCache maps transaction ids to their log metadata. It is
// purely an optimization: a miss means a slower log scan, never a different
// answer. Bounded capacity with least-recently-used eviction; safe for
// concurrent use.
type TransactionMetadataCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[common.TransactionID]*list.Element
}

type metadataCacheEntry struct {
	id   common.TransactionID
	meta TransactionMetadata
}

func NewTransactionMetadataCache(capacity int) *TransactionMetadataCache {
	if capacity < 1 {
		capacity = 1
	}

	return &TransactionMetadataCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[common.TransactionID]*list.Element, capacity),
	}
}

func (c *TransactionMetadataCache) Put(id common.TransactionID, position common.LogPosition, checksum common.Checksum) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		elem.Value.(*metadataCacheEntry).meta = TransactionMetadata{Position: position, Checksum: checksum}
		c.order.MoveToFront(elem)

		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*metadataCacheEntry).id)
	}

	c.items[id] = c.order.PushFront(&metadataCacheEntry{
		id:   id,
		meta: TransactionMetadata{Position: position, Checksum: checksum},
	})
}

func (c *TransactionMetadataCache) Get(id common.TransactionID) (TransactionMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		return TransactionMetadata{}, false
	}

	c.order.MoveToFront(elem)

	return elem.Value.(*metadataCacheEntry).meta, true
}

// Clear empties the cache. Called externally after schema-altering commits
// that invalidate assumptions held elsewhere in the store; the cache itself
// never needs it for correctness.
func (c *TransactionMetadataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[common.TransactionID]*list.Element, c.capacity)
}

func (c *TransactionMetadataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}
