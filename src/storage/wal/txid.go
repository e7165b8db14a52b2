package wal

import (
	"sync/atomic"

	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// TransactionIDStore is the single source of truth for "last committed
// transaction id". It is created once at store open, seeded from the last
// recovered transaction (or BaseTransactionID for a new store), and torn down
// at store close. Allocation and publication are separate counters: NextID
// claims the next id, TransactionCommitted publishes it once its entry is
// durable. Readers of LastCommittedID therefore never observe an id whose
// entry has not been fully written and flushed.
type TransactionIDStore struct {
	allocated atomic.Uint64
	committed atomic.Uint64
}

func NewTransactionIDStore(lastCommitted common.TransactionID) *TransactionIDStore {
	s := &TransactionIDStore{}
	s.allocated.Store(uint64(lastCommitted))
	s.committed.Store(uint64(lastCommitted))

	return s
}

// NextID claims the next id in the sequence. The caller must hold the append
// serialization point; two transactions never observe the same id.
func (s *TransactionIDStore) NextID() common.TransactionID {
	return common.TransactionID(s.allocated.Add(1))
}

// RollbackID returns an allocation whose entry never reached the log, keeping
// the appended id sequence gap-free. Only valid for the most recent
// allocation, under the same serialization the caller used for NextID.
func (s *TransactionIDStore) RollbackID(id common.TransactionID) {
	s.allocated.CompareAndSwap(uint64(id), uint64(id)-1)
}

// TransactionCommitted publishes id as the last committed transaction. The
// appender calls this once the entry is durably flushed; ids are published in
// append order.
func (s *TransactionIDStore) TransactionCommitted(id common.TransactionID) {
	s.committed.Store(uint64(id))
}

func (s *TransactionIDStore) LastCommittedID() common.TransactionID {
	return common.TransactionID(s.committed.Load())
}
