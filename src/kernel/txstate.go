package kernel

import "sort"

// SchemaRule describes an index or constraint rule as the transaction state
// sees it.
type SchemaRule struct {
	ID          uint64
	Label       uint32
	PropertyKey uint32
	Constraint  bool
}

// PropertyDelta is one pending property write.
type PropertyDelta struct {
	Key   uint32
	Value []byte
}

// propertyDiff accumulates add/change/remove per property key for one owner.
type propertyDiff struct {
	added   map[uint32][]byte
	changed map[uint32][]byte
	removed map[uint32]struct{}
}

func newPropertyDiff() *propertyDiff {
	return &propertyDiff{
		added:   map[uint32][]byte{},
		changed: map[uint32][]byte{},
		removed: map[uint32]struct{}{},
	}
}

func (d *propertyDiff) set(key uint32, value []byte, existedBefore bool) {
	delete(d.removed, key)

	if _, wasAdded := d.added[key]; wasAdded || !existedBefore {
		d.added[key] = value
	} else {
		d.changed[key] = value
	}
}

func (d *propertyDiff) remove(key uint32, existedBefore bool) {
	if _, wasAdded := d.added[key]; wasAdded {
		// Added and removed inside the same transaction: net zero.
		delete(d.added, key)
		return
	}

	delete(d.changed, key)
	if existedBefore {
		d.removed[key] = struct{}{}
	}
}

func (d *propertyDiff) empty() bool {
	return len(d.added) == 0 && len(d.changed) == 0 && len(d.removed) == 0
}

// RelationshipSpec is the identity of a relationship created in this
// transaction.
type RelationshipSpec struct {
	Type      uint32
	StartNode uint64
	EndNode   uint64
}

// TxState is the accumulating in-memory diff of one open transaction. It is
// exclusively owned by its KernelTransaction and replaced wholesale at
// transaction reset.
type TxState struct {
	nodesCreated map[uint64]struct{}
	nodesDeleted map[uint64]struct{}

	relsCreated map[uint64]RelationshipSpec
	relsDeleted map[uint64]struct{}

	nodeProps  map[uint64]*propertyDiff
	relProps   map[uint64]*propertyDiff
	graphProps *propertyDiff

	labelsAdded   map[uint64]map[uint32]struct{}
	labelsRemoved map[uint64]map[uint32]struct{}

	rulesAdded   []SchemaRule
	rulesDropped []SchemaRule

	// Indexes backing constraints created in this transaction; these must be
	// droppable during rollback of this same transaction.
	constraintIndexesCreated []SchemaRule
}

func NewTxState() *TxState {
	return &TxState{
		nodesCreated:  map[uint64]struct{}{},
		nodesDeleted:  map[uint64]struct{}{},
		relsCreated:   map[uint64]RelationshipSpec{},
		relsDeleted:   map[uint64]struct{}{},
		nodeProps:     map[uint64]*propertyDiff{},
		relProps:      map[uint64]*propertyDiff{},
		graphProps:    newPropertyDiff(),
		labelsAdded:   map[uint64]map[uint32]struct{}{},
		labelsRemoved: map[uint64]map[uint32]struct{}{},
	}
}

func (s *TxState) NodeCreate(id uint64) {
	delete(s.nodesDeleted, id)
	s.nodesCreated[id] = struct{}{}
}

func (s *TxState) NodeDelete(id uint64) {
	if _, createdHere := s.nodesCreated[id]; createdHere {
		// Created and deleted inside the same transaction: erase all trace.
		delete(s.nodesCreated, id)
		delete(s.nodeProps, id)
		delete(s.labelsAdded, id)
		delete(s.labelsRemoved, id)

		return
	}

	delete(s.nodeProps, id)
	delete(s.labelsAdded, id)
	delete(s.labelsRemoved, id)
	s.nodesDeleted[id] = struct{}{}
}

func (s *TxState) RelationshipCreate(id uint64, relType uint32, startNode, endNode uint64) {
	delete(s.relsDeleted, id)
	s.relsCreated[id] = RelationshipSpec{Type: relType, StartNode: startNode, EndNode: endNode}
}

func (s *TxState) RelationshipDelete(id uint64) {
	if _, createdHere := s.relsCreated[id]; createdHere {
		delete(s.relsCreated, id)
		delete(s.relProps, id)

		return
	}

	delete(s.relProps, id)
	s.relsDeleted[id] = struct{}{}
}

// NodeSetProperty records a property write. existedBefore tells whether the
// key was present on the node outside this transaction, which decides
// between an add and a change.
func (s *TxState) NodeSetProperty(id uint64, key uint32, value []byte, existedBefore bool) {
	diff, ok := s.nodeProps[id]
	if !ok {
		diff = newPropertyDiff()
		s.nodeProps[id] = diff
	}

	diff.set(key, value, existedBefore)
}

func (s *TxState) NodeRemoveProperty(id uint64, key uint32, existedBefore bool) {
	diff, ok := s.nodeProps[id]
	if !ok {
		diff = newPropertyDiff()
		s.nodeProps[id] = diff
	}

	diff.remove(key, existedBefore)
}

func (s *TxState) RelationshipSetProperty(id uint64, key uint32, value []byte, existedBefore bool) {
	diff, ok := s.relProps[id]
	if !ok {
		diff = newPropertyDiff()
		s.relProps[id] = diff
	}

	diff.set(key, value, existedBefore)
}

func (s *TxState) RelationshipRemoveProperty(id uint64, key uint32, existedBefore bool) {
	diff, ok := s.relProps[id]
	if !ok {
		diff = newPropertyDiff()
		s.relProps[id] = diff
	}

	diff.remove(key, existedBefore)
}

func (s *TxState) GraphSetProperty(key uint32, value []byte, existedBefore bool) {
	s.graphProps.set(key, value, existedBefore)
}

func (s *TxState) GraphRemoveProperty(key uint32, existedBefore bool) {
	s.graphProps.remove(key, existedBefore)
}

func (s *TxState) AddLabel(nodeID uint64, label uint32) {
	if removed, ok := s.labelsRemoved[nodeID]; ok {
		if _, wasRemoved := removed[label]; wasRemoved {
			delete(removed, label)

			return
		}
	}

	added, ok := s.labelsAdded[nodeID]
	if !ok {
		added = map[uint32]struct{}{}
		s.labelsAdded[nodeID] = added
	}
	added[label] = struct{}{}
}

func (s *TxState) RemoveLabel(nodeID uint64, label uint32) {
	if added, ok := s.labelsAdded[nodeID]; ok {
		if _, wasAdded := added[label]; wasAdded {
			delete(added, label)

			return
		}
	}

	removed, ok := s.labelsRemoved[nodeID]
	if !ok {
		removed = map[uint32]struct{}{}
		s.labelsRemoved[nodeID] = removed
	}
	removed[label] = struct{}{}
}

func (s *TxState) AddSchemaRule(rule SchemaRule) {
	s.rulesAdded = append(s.rulesAdded, rule)
	if rule.Constraint {
		s.constraintIndexesCreated = append(s.constraintIndexesCreated, rule)
	}
}

func (s *TxState) DropSchemaRule(rule SchemaRule) {
	s.rulesDropped = append(s.rulesDropped, rule)
}

func (s *TxState) ConstraintIndexesCreated() []SchemaRule {
	return s.constraintIndexesCreated
}

func (s *TxState) HasSchemaChanges() bool {
	return len(s.rulesAdded) > 0 || len(s.rulesDropped) > 0
}

// HasChanges reports whether any net change remains. Changes undone within
// the transaction (create then delete, add then remove) do not count.
func (s *TxState) HasChanges() bool {
	if len(s.nodesCreated)+len(s.nodesDeleted)+len(s.relsCreated)+len(s.relsDeleted) > 0 {
		return true
	}
	if len(s.rulesAdded)+len(s.rulesDropped) > 0 {
		return true
	}
	if !s.graphProps.empty() {
		return true
	}

	for _, diff := range s.nodeProps {
		if !diff.empty() {
			return true
		}
	}
	for _, diff := range s.relProps {
		if !diff.empty() {
			return true
		}
	}

	for _, labels := range s.labelsAdded {
		if len(labels) > 0 {
			return true
		}
	}
	for _, labels := range s.labelsRemoved {
		if len(labels) > 0 {
			return true
		}
	}

	return false
}

// TxStateVisitor receives the net diff in a deterministic order:
// nodes, relationships, properties, labels, schema rules.
type TxStateVisitor interface {
	VisitCreatedNode(id uint64)
	VisitDeletedNode(id uint64)
	VisitCreatedRelationship(id uint64, relType uint32, startNode, endNode uint64)
	VisitDeletedRelationship(id uint64)
	VisitNodePropertyChanges(id uint64, added, changed []PropertyDelta, removed []uint32)
	VisitRelationshipPropertyChanges(id uint64, added, changed []PropertyDelta, removed []uint32)
	VisitGraphPropertyChanges(added, changed []PropertyDelta, removed []uint32)
	VisitNodeLabelChanges(id uint64, added, removed []uint32)
	VisitAddedSchemaRule(rule SchemaRule)
	VisitRemovedSchemaRule(rule SchemaRule)
}

func sortedIDs[V any](m map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}

func (d *propertyDiff) deltas() (added, changed []PropertyDelta, removed []uint32) {
	for _, key := range sortedKeys(d.added) {
		added = append(added, PropertyDelta{Key: key, Value: d.added[key]})
	}
	for _, key := range sortedKeys(d.changed) {
		changed = append(changed, PropertyDelta{Key: key, Value: d.changed[key]})
	}
	removed = append(removed, sortedKeys(d.removed)...)

	return added, changed, removed
}

// Accept walks the accumulated diff. The order is stable between runs so the
// resulting command stream is reproducible.
func (s *TxState) Accept(v TxStateVisitor) {
	for _, id := range sortedIDs(s.nodesCreated) {
		v.VisitCreatedNode(id)
	}
	for _, id := range sortedIDs(s.nodesDeleted) {
		v.VisitDeletedNode(id)
	}

	for _, id := range sortedIDs(s.relsCreated) {
		spec := s.relsCreated[id]
		v.VisitCreatedRelationship(id, spec.Type, spec.StartNode, spec.EndNode)
	}
	for _, id := range sortedIDs(s.relsDeleted) {
		v.VisitDeletedRelationship(id)
	}

	for _, id := range sortedIDs(s.nodeProps) {
		added, changed, removed := s.nodeProps[id].deltas()
		if len(added)+len(changed)+len(removed) > 0 {
			v.VisitNodePropertyChanges(id, added, changed, removed)
		}
	}
	for _, id := range sortedIDs(s.relProps) {
		added, changed, removed := s.relProps[id].deltas()
		if len(added)+len(changed)+len(removed) > 0 {
			v.VisitRelationshipPropertyChanges(id, added, changed, removed)
		}
	}

	if added, changed, removed := s.graphProps.deltas(); len(added)+len(changed)+len(removed) > 0 {
		v.VisitGraphPropertyChanges(added, changed, removed)
	}

	labelNodes := map[uint64]struct{}{}
	for id := range s.labelsAdded {
		labelNodes[id] = struct{}{}
	}
	for id := range s.labelsRemoved {
		labelNodes[id] = struct{}{}
	}
	for _, id := range sortedIDs(labelNodes) {
		added := sortedKeys(s.labelsAdded[id])
		removed := sortedKeys(s.labelsRemoved[id])
		if len(added)+len(removed) > 0 {
			v.VisitNodeLabelChanges(id, added, removed)
		}
	}

	for _, rule := range s.rulesAdded {
		v.VisitAddedSchemaRule(rule)
	}
	for _, rule := range s.rulesDropped {
		v.VisitRemovedSchemaRule(rule)
	}
}
