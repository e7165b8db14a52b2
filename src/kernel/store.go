package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gvanjoic/neo4j/src/pkg/assert"
	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
	"github.com/gvanjoic/neo4j/src/txns"
)

// RecordStore is the in-memory record cache the commit pipeline applies
// commands to. Dispatch over the command variants is exhaustive: an unknown
// variant is an invariant violation, not an error value.
//
// Readers go through cursors with optimistic-read semantics: a read loop
// re-reads while ShouldRetry reports that a writer interleaved.
type RecordStore struct {
	mu      sync.RWMutex
	version atomic.Uint64 // bumped on every applied transaction

	nodes       map[uint64]commands.NodeRecord
	rels        map[uint64]commands.RelationshipRecord
	nodeLabels  map[uint64]map[uint32]struct{}
	nodeProps   map[uint64]map[uint32][]byte
	relProps    map[uint64]map[uint32][]byte
	graphProps  map[uint32][]byte
	schemaRules map[uint64]SchemaRule

	lastApplied common.TransactionID
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		nodes:       map[uint64]commands.NodeRecord{},
		rels:        map[uint64]commands.RelationshipRecord{},
		nodeLabels:  map[uint64]map[uint32]struct{}{},
		nodeProps:   map[uint64]map[uint32][]byte{},
		relProps:    map[uint64]map[uint32][]byte{},
		graphProps:  map[uint32][]byte{},
		schemaRules: map[uint64]SchemaRule{},
	}
}

// Apply writes one committed transaction's commands into the store, taking
// exclusive locks on the touched entities into the commit's lock group
// first.
func (s *RecordStore) Apply(txID common.TransactionID, cmds []commands.Command, locks *txns.LockGroup) {
	if locks != nil {
		for _, cmd := range cmds {
			if resource, ok := resourceFor(cmd); ok {
				locks.AcquireExclusive(resource)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cmd := range cmds {
		s.applyLocked(cmd)
	}

	s.lastApplied = txID
	s.version.Add(1)
}

func resourceFor(cmd commands.Command) (txns.Resource, bool) {
	switch c := cmd.(type) {
	case commands.NodeCommand:
		return txns.Resource{Kind: txns.ResourceNode, ID: c.After.ID}, true
	case commands.RelationshipCommand:
		return txns.Resource{Kind: txns.ResourceRelationship, ID: c.After.ID}, true
	case commands.PropertyCommand:
		switch c.Owner {
		case commands.OwnerNode:
			return txns.Resource{Kind: txns.ResourceNode, ID: c.OwnerID}, true
		case commands.OwnerRelationship:
			return txns.Resource{Kind: txns.ResourceRelationship, ID: c.OwnerID}, true
		}

		return txns.Resource{}, false
	case commands.LabelCommand:
		return txns.Resource{Kind: txns.ResourceLabel, ID: uint64(c.Label)}, true
	case commands.SchemaRuleCommand:
		return txns.Resource{Kind: txns.ResourceSchema, ID: c.RuleID}, true
	}

	assert.Assert(false, "unknown command type %T", cmd)

	return txns.Resource{}, false
}

func (s *RecordStore) applyLocked(cmd commands.Command) {
	switch c := cmd.(type) {
	case commands.NodeCommand:
		if c.After.InUse {
			s.nodes[c.After.ID] = c.After
		} else {
			delete(s.nodes, c.After.ID)
			delete(s.nodeLabels, c.After.ID)
			delete(s.nodeProps, c.After.ID)
		}

	case commands.RelationshipCommand:
		if c.After.InUse {
			s.rels[c.After.ID] = c.After
		} else {
			delete(s.rels, c.After.ID)
			delete(s.relProps, c.After.ID)
		}

	case commands.PropertyCommand:
		s.applyPropertyLocked(c)

	case commands.LabelCommand:
		labels, ok := s.nodeLabels[c.NodeID]
		if !ok {
			labels = map[uint32]struct{}{}
			s.nodeLabels[c.NodeID] = labels
		}
		if c.Added {
			labels[c.Label] = struct{}{}
		} else {
			delete(labels, c.Label)
		}

	case commands.SchemaRuleCommand:
		if c.Created {
			rule, err := DecodeSchemaRule(c.Rule)
			assert.NoError(err)
			s.schemaRules[c.RuleID] = rule
		} else {
			// The rule must exist: its drop was validated under the schema
			// lock before the command was ever produced.
			_, present := s.schemaRules[c.RuleID]
			assert.Assert(present, "dropping unknown schema rule %d", c.RuleID)
			delete(s.schemaRules, c.RuleID)
		}

	default:
		assert.Assert(false, "unknown command type %T", cmd)
	}
}

func (s *RecordStore) applyPropertyLocked(c commands.PropertyCommand) {
	var props map[uint32][]byte

	switch c.Owner {
	case commands.OwnerNode:
		props = s.nodeProps[c.OwnerID]
		if props == nil {
			props = map[uint32][]byte{}
			s.nodeProps[c.OwnerID] = props
		}
	case commands.OwnerRelationship:
		props = s.relProps[c.OwnerID]
		if props == nil {
			props = map[uint32][]byte{}
			s.relProps[c.OwnerID] = props
		}
	case commands.OwnerGraph:
		props = s.graphProps
	default:
		assert.Assert(false, "unknown property owner %d", c.Owner)
	}

	switch c.Change {
	case commands.PropertyAdded, commands.PropertyChanged:
		props[c.Key] = c.After
	case commands.PropertyRemoved:
		delete(props, c.Key)
	default:
		assert.Assert(false, "unknown property change %d", c.Change)
	}
}

func (s *RecordStore) LastAppliedID() common.TransactionID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastApplied
}

func (s *RecordStore) SchemaRule(id uint64) (SchemaRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.schemaRules[id]

	return rule, ok
}

// NodeCursor positions reads over one node. Reads follow the optimistic
// contract: ShouldRetry reports that a concurrent writer interleaved since
// the last Read, and the caller re-reads until stable.
type NodeCursor struct {
	store *RecordStore
	id    uint64
	stamp uint64

	Record commands.NodeRecord
	Found  bool
}

func (s *RecordStore) NodeCursor(id uint64) *NodeCursor {
	return &NodeCursor{store: s, id: id}
}

func (c *NodeCursor) Read() {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	c.stamp = c.store.version.Load()
	c.Record, c.Found = c.store.nodes[c.id]
}

func (c *NodeCursor) ShouldRetry() bool {
	return c.store.version.Load() != c.stamp
}

// ReadNode is the canonical read-and-retry-until-stable loop.
func (s *RecordStore) ReadNode(id uint64) (commands.NodeRecord, bool) {
	cursor := s.NodeCursor(id)
	for {
		cursor.Read()
		if !cursor.ShouldRetry() {
			return cursor.Record, cursor.Found
		}
	}
}

// NodeView assembles a node's record, labels and properties into the cached
// read shape.
func (s *RecordStore) NodeView(id uint64) (CachedNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return CachedNode{}, false
	}

	view := CachedNode{
		ID:         id,
		Labels:     map[uint32]struct{}{},
		Properties: map[uint32][]byte{},
	}
	for label := range s.nodeLabels[id] {
		view.Labels[label] = struct{}{}
	}
	for key, value := range s.nodeProps[id] {
		view.Properties[key] = value
	}

	return view, true
}

// RelationshipView assembles a relationship's record and properties into the
// cached read shape.
func (s *RecordStore) RelationshipView(id uint64) (CachedRelationship, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rels[id]
	if !ok {
		return CachedRelationship{}, false
	}

	view := CachedRelationship{
		ID:         id,
		Type:       rec.Type,
		StartNode:  rec.StartNode,
		EndNode:    rec.EndNode,
		Properties: map[uint32][]byte{},
	}
	for key, value := range s.relProps[id] {
		view.Properties[key] = value
	}

	return view, true
}

// IndexRegistry tracks live indexes, including the indexes backing
// constraints, which are created while their transaction is still open and
// must therefore be removable if that transaction rolls back.
type IndexRegistry struct {
	mu      sync.Mutex
	indexes map[uint64]SchemaRule
}

func NewIndexRegistry() *IndexRegistry {
	return &IndexRegistry{indexes: map[uint64]SchemaRule{}}
}

func (r *IndexRegistry) CreateIndex(rule SchemaRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.indexes[rule.ID] = rule
}

func (r *IndexRegistry) DropIndex(rule SchemaRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[rule.ID]; !ok {
		return fmt.Errorf("index %d does not exist", rule.ID)
	}
	delete(r.indexes, rule.ID)

	return nil
}

func (r *IndexRegistry) Has(ruleID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.indexes[ruleID]

	return ok
}

// SchemaState is the kernel-side cache of schema-derived computations. It is
// cleared wholesale whenever a transaction commits schema changes.
type SchemaState struct {
	mu sync.Mutex
	m  map[string]any
}

func NewSchemaState() *SchemaState {
	return &SchemaState{m: map[string]any{}}
}

func (s *SchemaState) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.m[key]

	return v, ok
}

func (s *SchemaState) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[key] = value
}

func (s *SchemaState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m = map[string]any{}
}
