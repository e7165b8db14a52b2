package kernel

import "github.com/gvanjoic/neo4j/src/txns"

// schemaResource is the single lock covering all schema mutations.
var schemaResource = txns.Resource{Kind: txns.ResourceSchema, ID: 0}

// Statement is the unit of work inside a transaction. A transaction hands out
// one shared statement and reference-counts it: every AcquireStatement must be
// paired with a Close, and the statement is released only when the last
// reference closes. All operations funnel their writes into the transaction's
// TxState; nothing touches the store until commit.
type Statement struct {
	tx       *KernelTransaction
	refCount int
	closed   bool
}

func (s *Statement) assertOpen() error {
	if s.closed {
		return ErrStatementClosed
	}

	return s.tx.assertOpen()
}

// Close releases one reference. The final Close detaches the statement from
// its transaction.
func (s *Statement) Close() error {
	if s.closed {
		return ErrStatementClosed
	}

	s.refCount--
	if s.refCount == 0 {
		s.forceClose()
	}

	return nil
}

func (s *Statement) forceClose() {
	s.closed = true
	s.tx.releaseStatement()
}

func (s *Statement) dataWrite() (*TxState, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	if err := s.tx.UpgradeToDataTransaction(); err != nil {
		return nil, err
	}

	return s.tx.TxState(), nil
}

func (s *Statement) schemaWrite() (*TxState, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	if err := s.tx.UpgradeToSchemaTransaction(); err != nil {
		return nil, err
	}

	s.tx.locks.AcquireExclusive(schemaResource)

	return s.tx.TxState(), nil
}

func (s *Statement) NodeCreate() (uint64, error) {
	state, err := s.dataWrite()
	if err != nil {
		return 0, err
	}

	id := s.tx.kernel.ids.nextNodeID()
	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: id})
	state.NodeCreate(id)

	return id, nil
}

func (s *Statement) NodeDelete(id uint64) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: id})
	state.NodeDelete(id)

	return nil
}

func (s *Statement) RelationshipCreate(relType uint32, startNode, endNode uint64) (uint64, error) {
	state, err := s.dataWrite()
	if err != nil {
		return 0, err
	}

	// Both endpoints are locked so neither can be deleted underneath the new
	// relationship.
	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: startNode})
	if endNode != startNode {
		s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: endNode})
	}

	id := s.tx.kernel.ids.nextRelationshipID()
	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceRelationship, ID: id})
	state.RelationshipCreate(id, relType, startNode, endNode)

	return id, nil
}

func (s *Statement) RelationshipDelete(id uint64) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceRelationship, ID: id})
	state.RelationshipDelete(id)

	return nil
}

func (s *Statement) nodePropertyExists(id uint64, key uint32) bool {
	if node, ok := s.tx.kernel.persistence.GetNode(id); ok {
		_, present := node.Properties[key]

		return present
	}
	if node, ok := s.tx.kernel.records.NodeView(id); ok {
		_, present := node.Properties[key]

		return present
	}

	return false
}

func (s *Statement) NodeSetProperty(id uint64, key uint32, value []byte) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: id})
	state.NodeSetProperty(id, key, value, s.nodePropertyExists(id, key))

	return nil
}

func (s *Statement) NodeRemoveProperty(id uint64, key uint32) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: id})
	state.NodeRemoveProperty(id, key, s.nodePropertyExists(id, key))

	return nil
}

func (s *Statement) relationshipPropertyExists(id uint64, key uint32) bool {
	if rel, ok := s.tx.kernel.persistence.GetRelationship(id); ok {
		_, present := rel.Properties[key]

		return present
	}
	if rel, ok := s.tx.kernel.records.RelationshipView(id); ok {
		_, present := rel.Properties[key]

		return present
	}

	return false
}

func (s *Statement) RelationshipSetProperty(id uint64, key uint32, value []byte) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceRelationship, ID: id})
	state.RelationshipSetProperty(id, key, value, s.relationshipPropertyExists(id, key))

	return nil
}

func (s *Statement) RelationshipRemoveProperty(id uint64, key uint32) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceRelationship, ID: id})
	state.RelationshipRemoveProperty(id, key, s.relationshipPropertyExists(id, key))

	return nil
}

func (s *Statement) GraphSetProperty(key uint32, value []byte) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	_, existed := s.tx.kernel.persistence.GetGraphProperty(key)
	state.GraphSetProperty(key, value, existed)

	return nil
}

func (s *Statement) GraphRemoveProperty(key uint32) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	_, existed := s.tx.kernel.persistence.GetGraphProperty(key)
	state.GraphRemoveProperty(key, existed)

	return nil
}

func (s *Statement) NodeAddLabel(id uint64, label uint32) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: id})
	s.tx.locks.AcquireShared(txns.Resource{Kind: txns.ResourceLabel, ID: uint64(label)})
	state.AddLabel(id, label)

	return nil
}

func (s *Statement) NodeRemoveLabel(id uint64, label uint32) error {
	state, err := s.dataWrite()
	if err != nil {
		return err
	}

	s.tx.locks.AcquireExclusive(txns.Resource{Kind: txns.ResourceNode, ID: id})
	s.tx.locks.AcquireShared(txns.Resource{Kind: txns.ResourceLabel, ID: uint64(label)})
	state.RemoveLabel(id, label)

	return nil
}

// IndexCreate registers a plain (non-constraint) index rule.
func (s *Statement) IndexCreate(label, propertyKey uint32) (SchemaRule, error) {
	state, err := s.schemaWrite()
	if err != nil {
		return SchemaRule{}, err
	}

	rule := SchemaRule{
		ID:          s.tx.kernel.ids.nextSchemaRuleID(),
		Label:       label,
		PropertyKey: propertyKey,
	}
	state.AddSchemaRule(rule)

	return rule, nil
}

// ConstraintCreate registers a uniqueness constraint. The backing index is
// created eagerly, before the transaction commits, and is therefore dropped
// again if the transaction rolls back.
func (s *Statement) ConstraintCreate(label, propertyKey uint32) (SchemaRule, error) {
	state, err := s.schemaWrite()
	if err != nil {
		return SchemaRule{}, err
	}

	rule := SchemaRule{
		ID:          s.tx.kernel.ids.nextSchemaRuleID(),
		Label:       label,
		PropertyKey: propertyKey,
		Constraint:  true,
	}
	s.tx.kernel.registry.CreateIndex(rule)
	state.AddSchemaRule(rule)

	return rule, nil
}

func (s *Statement) SchemaRuleDrop(rule SchemaRule) error {
	state, err := s.schemaWrite()
	if err != nil {
		return err
	}

	state.DropSchemaRule(rule)

	return nil
}

// NodeGet reads a node through the persistence cache, falling back to the
// record store. Takes a shared lock for the duration of the transaction.
func (s *Statement) NodeGet(id uint64) (CachedNode, bool, error) {
	if err := s.assertOpen(); err != nil {
		return CachedNode{}, false, err
	}

	s.tx.locks.AcquireShared(txns.Resource{Kind: txns.ResourceNode, ID: id})

	if node, ok := s.tx.kernel.persistence.GetNode(id); ok {
		return node, true, nil
	}

	node, ok := s.tx.kernel.records.NodeView(id)

	return node, ok, nil
}
