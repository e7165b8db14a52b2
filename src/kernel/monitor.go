package kernel

import (
	"sync/atomic"

	"github.com/gvanjoic/neo4j/src"
)

// TransactionMonitor counts transaction lifecycle events for the whole
// kernel. Counters are monotone; Finished is called exactly once per
// transaction that reached Close.
type TransactionMonitor struct {
	log src.Logger

	started    atomic.Uint64
	committed  atomic.Uint64
	rolledBack atomic.Uint64
	terminated atomic.Uint64
}

func NewTransactionMonitor(log src.Logger) *TransactionMonitor {
	return &TransactionMonitor{log: log}
}

func (m *TransactionMonitor) TransactionStarted() {
	m.started.Add(1)
}

func (m *TransactionMonitor) TransactionFinished(committed bool) {
	if committed {
		m.committed.Add(1)
	} else {
		m.rolledBack.Add(1)
	}
}

func (m *TransactionMonitor) TransactionTerminated() {
	m.terminated.Add(1)
	m.log.Debugw("transaction marked for termination")
}

func (m *TransactionMonitor) Started() uint64    { return m.started.Load() }
func (m *TransactionMonitor) Committed() uint64  { return m.committed.Load() }
func (m *TransactionMonitor) RolledBack() uint64 { return m.rolledBack.Load() }
func (m *TransactionMonitor) Terminated() uint64 { return m.terminated.Load() }
