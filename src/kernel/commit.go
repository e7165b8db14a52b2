package kernel

import (
	"fmt"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/wal"
	"github.com/gvanjoic/neo4j/src/txns"
)

// CommitProcess takes a fully built transaction representation through the
// two-phase pipeline: durable log append first, store application second. A
// transaction is committed the moment the append returns; store application
// is redoable from the log.
type CommitProcess interface {
	Commit(tx *wal.TransactionRepresentation, locks *txns.LockGroup) (common.TransactionID, error)
}

type storeCommitProcess struct {
	store   *wal.LogicalTransactionStore
	records *RecordStore
	log     src.Logger
}

func NewStoreCommitProcess(store *wal.LogicalTransactionStore, records *RecordStore, log src.Logger) CommitProcess {
	return &storeCommitProcess{store: store, records: records, log: log}
}

func (p *storeCommitProcess) Commit(tx *wal.TransactionRepresentation, locks *txns.LockGroup) (common.TransactionID, error) {
	committed, err := p.store.Append(tx)
	if err != nil {
		return 0, fmt.Errorf("committing transaction to log: %w", err)
	}

	p.records.Apply(committed.ID, tx.Commands, locks)

	p.log.Debugw("transaction committed",
		"txId", committed.ID,
		"position", committed.Position,
	)

	return committed.ID, nil
}
