package kernel

import "sync"

// CachedNode is the read-side view of a node assembled from committed
// transaction state.
type CachedNode struct {
	ID         uint64
	Labels     map[uint32]struct{}
	Properties map[uint32][]byte
}

type CachedRelationship struct {
	ID         uint64
	Type       uint32
	StartNode  uint64
	EndNode    uint64
	Properties map[uint32][]byte
}

// PersistenceCache keeps materialized entities for reads. Committed
// transactions patch it in place; rolled-back transactions evict everything
// they touched so stale speculative reads cannot survive.
type PersistenceCache struct {
	mu         sync.RWMutex
	nodes      map[uint64]*CachedNode
	rels       map[uint64]*CachedRelationship
	graphProps map[uint32][]byte
}

func NewPersistenceCache() *PersistenceCache {
	return &PersistenceCache{
		nodes:      map[uint64]*CachedNode{},
		rels:       map[uint64]*CachedRelationship{},
		graphProps: map[uint32][]byte{},
	}
}

func (c *PersistenceCache) GetNode(id uint64) (CachedNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	node, ok := c.nodes[id]
	if !ok {
		return CachedNode{}, false
	}

	return copyNode(node), true
}

func (c *PersistenceCache) GetRelationship(id uint64) (CachedRelationship, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rel, ok := c.rels[id]
	if !ok {
		return CachedRelationship{}, false
	}

	return copyRelationship(rel), true
}

func (c *PersistenceCache) GetGraphProperty(key uint32) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.graphProps[key]

	return value, ok
}

func copyNode(n *CachedNode) CachedNode {
	out := CachedNode{
		ID:         n.ID,
		Labels:     make(map[uint32]struct{}, len(n.Labels)),
		Properties: make(map[uint32][]byte, len(n.Properties)),
	}
	for label := range n.Labels {
		out.Labels[label] = struct{}{}
	}
	for key, value := range n.Properties {
		out.Properties[key] = value
	}

	return out
}

func copyRelationship(r *CachedRelationship) CachedRelationship {
	out := CachedRelationship{
		ID:         r.ID,
		Type:       r.Type,
		StartNode:  r.StartNode,
		EndNode:    r.EndNode,
		Properties: make(map[uint32][]byte, len(r.Properties)),
	}
	for key, value := range r.Properties {
		out.Properties[key] = value
	}

	return out
}

// Apply patches the cache with a transaction's committed changes.
func (c *PersistenceCache) Apply(state *TxState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state.Accept(&cachePatcher{cache: c})
}

// Invalidate evicts every entity a transaction touched. Used on rollback.
func (c *PersistenceCache) Invalidate(state *TxState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state.Accept(&cacheEvictor{cache: c})
}

func (c *PersistenceCache) nodeLocked(id uint64) *CachedNode {
	node, ok := c.nodes[id]
	if !ok {
		node = &CachedNode{
			ID:         id,
			Labels:     map[uint32]struct{}{},
			Properties: map[uint32][]byte{},
		}
		c.nodes[id] = node
	}

	return node
}

func (c *PersistenceCache) relLocked(id uint64) *CachedRelationship {
	rel, ok := c.rels[id]
	if !ok {
		rel = &CachedRelationship{ID: id, Properties: map[uint32][]byte{}}
		c.rels[id] = rel
	}

	return rel
}

// cachePatcher applies TxState deltas in place. Caller holds the cache lock.
type cachePatcher struct {
	cache *PersistenceCache
}

func (p *cachePatcher) VisitCreatedNode(id uint64) {
	p.cache.nodeLocked(id)
}

func (p *cachePatcher) VisitDeletedNode(id uint64) {
	delete(p.cache.nodes, id)
}

func (p *cachePatcher) VisitCreatedRelationship(id uint64, relType uint32, startNode, endNode uint64) {
	rel := p.cache.relLocked(id)
	rel.Type = relType
	rel.StartNode = startNode
	rel.EndNode = endNode
}

func (p *cachePatcher) VisitDeletedRelationship(id uint64) {
	delete(p.cache.rels, id)
}

func applyDeltas(props map[uint32][]byte, added, changed []PropertyDelta, removed []uint32) {
	for _, delta := range added {
		props[delta.Key] = delta.Value
	}
	for _, delta := range changed {
		props[delta.Key] = delta.Value
	}
	for _, key := range removed {
		delete(props, key)
	}
}

func (p *cachePatcher) VisitNodePropertyChanges(id uint64, added, changed []PropertyDelta, removed []uint32) {
	applyDeltas(p.cache.nodeLocked(id).Properties, added, changed, removed)
}

func (p *cachePatcher) VisitRelationshipPropertyChanges(id uint64, added, changed []PropertyDelta, removed []uint32) {
	applyDeltas(p.cache.relLocked(id).Properties, added, changed, removed)
}

func (p *cachePatcher) VisitGraphPropertyChanges(added, changed []PropertyDelta, removed []uint32) {
	applyDeltas(p.cache.graphProps, added, changed, removed)
}

func (p *cachePatcher) VisitNodeLabelChanges(id uint64, added, removed []uint32) {
	node := p.cache.nodeLocked(id)
	for _, label := range added {
		node.Labels[label] = struct{}{}
	}
	for _, label := range removed {
		delete(node.Labels, label)
	}
}

func (p *cachePatcher) VisitAddedSchemaRule(SchemaRule) {}

func (p *cachePatcher) VisitRemovedSchemaRule(SchemaRule) {}

// cacheEvictor drops every entity the transaction touched. Caller holds the
// cache lock.
type cacheEvictor struct {
	cache *PersistenceCache
}

func (e *cacheEvictor) VisitCreatedNode(id uint64) {
	delete(e.cache.nodes, id)
}

func (e *cacheEvictor) VisitDeletedNode(id uint64) {
	delete(e.cache.nodes, id)
}

func (e *cacheEvictor) VisitCreatedRelationship(id uint64, _ uint32, _, _ uint64) {
	delete(e.cache.rels, id)
}

func (e *cacheEvictor) VisitDeletedRelationship(id uint64) {
	delete(e.cache.rels, id)
}

func (e *cacheEvictor) VisitNodePropertyChanges(id uint64, _, _ []PropertyDelta, _ []uint32) {
	delete(e.cache.nodes, id)
}

func (e *cacheEvictor) VisitRelationshipPropertyChanges(id uint64, _, _ []PropertyDelta, _ []uint32) {
	delete(e.cache.rels, id)
}

func (e *cacheEvictor) VisitGraphPropertyChanges(added, changed []PropertyDelta, removed []uint32) {
	for _, delta := range added {
		delete(e.cache.graphProps, delta.Key)
	}
	for _, delta := range changed {
		delete(e.cache.graphProps, delta.Key)
	}
	for _, key := range removed {
		delete(e.cache.graphProps, key)
	}
}

func (e *cacheEvictor) VisitNodeLabelChanges(id uint64, _, _ []uint32) {
	delete(e.cache.nodes, id)
}

func (e *cacheEvictor) VisitAddedSchemaRule(SchemaRule) {}

func (e *cacheEvictor) VisitRemovedSchemaRule(SchemaRule) {}
