package kernel

import (
	"fmt"
	"sync/atomic"

	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
	"github.com/gvanjoic/neo4j/src/storage/wal"
	"github.com/gvanjoic/neo4j/src/txns"
)

type transactionType int

const (
	txAny transactionType = iota
	txData
	txSchema
)

// KernelTransaction drives one transaction from begin to close. Instances are
// pooled: Initialize returns a used instance to fresh state, so no field may
// survive reuse by accident.
//
// Success and Failure only record intent; all consequences happen at Close.
// Failure wins over Success, and termination wins over both.
type KernelTransaction struct {
	kernel *Kernel
	locks  *txns.Client

	txType      transactionType
	state       *TxState
	recordState *TransactionRecordState
	legacyState *LegacyIndexState

	success    bool
	failure    bool
	terminated atomic.Bool
	closing    bool
	closed     bool

	statement *Statement

	timeStarted              int64
	lastCommittedWhenStarted common.TransactionID
}

func newKernelTransaction(k *Kernel) *KernelTransaction {
	return &KernelTransaction{
		kernel:      k,
		recordState: NewTransactionRecordState(),
		legacyState: NewLegacyIndexState(),
		closed:      true,
	}
}

// Initialize prepares a pooled instance for a new life. Every mutable field is
// reset here.
func (tx *KernelTransaction) Initialize(locks *txns.Client, lastCommitted common.TransactionID) {
	tx.locks = locks
	tx.txType = txAny
	tx.state = nil
	tx.recordState.Initialize(lastCommitted)
	tx.legacyState.Initialize()
	tx.success = false
	tx.failure = false
	tx.terminated.Store(false)
	tx.closing = false
	tx.closed = false
	tx.statement = nil
	tx.timeStarted = tx.kernel.clock().UnixMilli()
	tx.lastCommittedWhenStarted = lastCommitted
}

// Success marks the happy path. The transaction still rolls back if Failure
// or MarkForTermination was also called.
func (tx *KernelTransaction) Success() {
	tx.success = true
}

func (tx *KernelTransaction) Failure() {
	tx.failure = true
}

// MarkForTermination is safe to call from any goroutine and at most once
// takes effect: the transaction will reject further work and roll back at
// Close.
func (tx *KernelTransaction) MarkForTermination() {
	if !tx.terminated.Swap(true) {
		tx.kernel.monitor.TransactionTerminated()
	}
}

func (tx *KernelTransaction) ShouldBeTerminated() bool {
	return tx.terminated.Load()
}

func (tx *KernelTransaction) assertOpen() error {
	if tx.closed {
		return ErrTransactionClosed
	}
	if tx.closing {
		return ErrTransactionClosing
	}
	if tx.terminated.Load() {
		return ErrTransactionTerminated
	}

	return nil
}

// AcquireStatement hands out the transaction's statement, reference-counted.
func (tx *KernelTransaction) AcquireStatement() (*Statement, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}

	if tx.statement == nil {
		tx.statement = &Statement{tx: tx}
	}
	tx.statement.refCount++

	return tx.statement, nil
}

func (tx *KernelTransaction) releaseStatement() {
	tx.statement = nil
}

func (tx *KernelTransaction) UpgradeToDataTransaction() error {
	if tx.kernel.readOnly {
		return ErrReadOnlyDatabase
	}
	if tx.txType == txSchema {
		return ErrDataAfterSchema
	}
	tx.txType = txData

	return nil
}

func (tx *KernelTransaction) UpgradeToSchemaTransaction() error {
	if tx.kernel.readOnly {
		return ErrReadOnlyDatabase
	}
	if tx.txType == txData {
		return ErrSchemaAfterData
	}
	tx.txType = txSchema

	return nil
}

// TxState returns the transaction's diff, creating it on first use. Purely
// read transactions never allocate one.
func (tx *KernelTransaction) TxState() *TxState {
	if tx.state == nil {
		tx.state = NewTxState()
	}

	return tx.state
}

func (tx *KernelTransaction) HasTxState() bool {
	return tx.state != nil
}

// LegacyIndexState exposes the auxiliary command buffer for manual index
// changes. Its commands join the record state's at commit and count against
// the read-only fast path.
func (tx *KernelTransaction) LegacyIndexState() *LegacyIndexState {
	return tx.legacyState
}

// Close completes the transaction: commit if Success was called cleanly,
// rollback otherwise. Exactly one of the two paths runs, locks are released
// unconditionally, and the instance returns to the pool.
func (tx *KernelTransaction) Close() error {
	if tx.closed {
		return ErrTransactionClosed
	}
	if tx.closing {
		return ErrTransactionClosing
	}

	if tx.statement != nil {
		tx.statement.forceClose()
	}

	tx.closing = true

	var err error
	if tx.success && !tx.failure && !tx.terminated.Load() {
		err = tx.commit()
	} else {
		err = tx.rollback()
		if err == nil && tx.success {
			err = ErrRolledBackDespiteSuccess
		}
	}

	tx.closing = false
	tx.closed = true
	tx.kernel.pool.Release(tx)

	return err
}

func (tx *KernelTransaction) commit() error {
	if tx.state != nil {
		if err := tx.kernel.hooks.BeforeCommit(tx.state); err != nil {
			return tx.failCommit(err)
		}
		if tx.state.HasChanges() {
			tx.state.Accept(&recordChangeVisitor{rs: tx.recordState})
		}
	}

	var extracted []commands.Command
	tx.recordState.ExtractCommands(&extracted)
	tx.legacyState.ExtractCommands(&extracted)

	// Read-only fast path: nothing reaches the log, no id is consumed.
	if len(extracted) == 0 {
		tx.afterCommit()

		return nil
	}

	group := txns.NewLockGroup(tx.locks)
	defer group.Close()

	rep := &wal.TransactionRepresentation{
		Commands:                   extracted,
		AdditionalHeader:           tx.kernel.header,
		MasterID:                   tx.kernel.masterID,
		AuthorID:                   tx.kernel.authorID,
		TimeStarted:                tx.timeStarted,
		LatestCommittedWhenStarted: tx.lastCommittedWhenStarted,
		TimeCommitted:              tx.kernel.clock().UnixMilli(),
	}

	if _, err := tx.kernel.commitProcess.Commit(rep, group); err != nil {
		return tx.failCommit(err)
	}

	if tx.state != nil {
		if tx.state.HasSchemaChanges() {
			// Committed schema changes invalidate every schema-derived
			// computation.
			tx.kernel.schemaState.Clear()
		}
		tx.kernel.persistence.Apply(tx.state)
	}

	tx.afterCommit()

	return nil
}

// failCommit turns a commit-path failure into a rollback, preserving the
// original cause as the returned error.
func (tx *KernelTransaction) failCommit(cause error) error {
	if rbErr := tx.rollback(); rbErr != nil {
		return fmt.Errorf("%w (rollback also failed: %v)", cause, rbErr)
	}

	return cause
}

func (tx *KernelTransaction) rollback() (err error) {
	defer tx.afterRollback()

	if tx.state == nil {
		return nil
	}

	// Constraint-backing indexes were created eagerly while the transaction
	// was open; they must not survive its rollback.
	for _, rule := range tx.state.ConstraintIndexesCreated() {
		if dropErr := tx.kernel.registry.DropIndex(rule); dropErr != nil {
			err = fmt.Errorf("%w: dropping constraint index %d: %v", ErrCouldNotRollback, rule.ID, dropErr)

			break
		}
	}

	tx.kernel.persistence.Invalidate(tx.state)

	return err
}

func (tx *KernelTransaction) afterCommit() {
	tx.closeLocks()
	if tx.state != nil {
		tx.kernel.hooks.AfterCommit(tx.state)
	}
	tx.kernel.monitor.TransactionFinished(true)
}

func (tx *KernelTransaction) afterRollback() {
	tx.closeLocks()
	if tx.state != nil {
		tx.kernel.hooks.AfterRollback(tx.state)
	}
	tx.kernel.monitor.TransactionFinished(false)
}

func (tx *KernelTransaction) closeLocks() {
	tx.locks.Close()
}

// recordChangeVisitor adapts the logical diff into physical change-commands.
type recordChangeVisitor struct {
	rs *TransactionRecordState
}

func (v *recordChangeVisitor) VisitCreatedNode(id uint64) {
	v.rs.NodeCreate(id)
}

func (v *recordChangeVisitor) VisitDeletedNode(id uint64) {
	v.rs.NodeDelete(id)
}

func (v *recordChangeVisitor) VisitCreatedRelationship(id uint64, relType uint32, startNode, endNode uint64) {
	v.rs.RelationshipCreate(id, relType, startNode, endNode)
}

func (v *recordChangeVisitor) VisitDeletedRelationship(id uint64) {
	v.rs.RelationshipDelete(id)
}

func (v *recordChangeVisitor) VisitNodePropertyChanges(id uint64, added, changed []PropertyDelta, removed []uint32) {
	for _, delta := range added {
		v.rs.NodeAddProperty(id, delta.Key, delta.Value)
	}
	for _, delta := range changed {
		v.rs.NodeChangeProperty(id, delta.Key, delta.Value)
	}
	for _, key := range removed {
		v.rs.NodeRemoveProperty(id, key)
	}
}

func (v *recordChangeVisitor) VisitRelationshipPropertyChanges(id uint64, added, changed []PropertyDelta, removed []uint32) {
	for _, delta := range added {
		v.rs.RelationshipAddProperty(id, delta.Key, delta.Value)
	}
	for _, delta := range changed {
		v.rs.RelationshipChangeProperty(id, delta.Key, delta.Value)
	}
	for _, key := range removed {
		v.rs.RelationshipRemoveProperty(id, key)
	}
}

func (v *recordChangeVisitor) VisitGraphPropertyChanges(added, changed []PropertyDelta, removed []uint32) {
	for _, delta := range added {
		v.rs.GraphAddProperty(delta.Key, delta.Value)
	}
	for _, delta := range changed {
		v.rs.GraphChangeProperty(delta.Key, delta.Value)
	}
	for _, key := range removed {
		v.rs.GraphRemoveProperty(key)
	}
}

func (v *recordChangeVisitor) VisitNodeLabelChanges(id uint64, added, removed []uint32) {
	for _, label := range added {
		v.rs.AddLabelToNode(label, id)
	}
	for _, label := range removed {
		v.rs.RemoveLabelFromNode(label, id)
	}
}

func (v *recordChangeVisitor) VisitAddedSchemaRule(rule SchemaRule) {
	v.rs.CreateSchemaRule(rule)
}

func (v *recordChangeVisitor) VisitRemovedSchemaRule(rule SchemaRule) {
	v.rs.DropSchemaRule(rule)
}
