package txns

import (
	"sync"

	"github.com/gvanjoic/neo4j/src/pkg/assert"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// Manager is the process-wide lock table: one wait queue per resource plus
// the per-transaction set of held resources, so that a finished transaction
// can be torn down with a single ReleaseAll.
type Manager struct {
	qsGuard sync.Mutex
	qs      map[Resource]*txnQueue

	heldGuard sync.Mutex
	held      map[common.TransactionID]map[Resource]struct{}
}

func NewManager() *Manager {
	return &Manager{
		qs:   map[Resource]*txnQueue{},
		held: map[common.TransactionID]map[Resource]struct{}{},
	}
}

// Lock queues the request and returns a channel that closes when the lock is
// granted. The channel is already closed if the lock was free. Locking a
// resource the transaction already holds is an invariant violation.
func (m *Manager) Lock(r LockRequest) <-chan struct{} {
	func() {
		m.heldGuard.Lock()
		defer m.heldGuard.Unlock()

		heldByTxn, ok := m.held[r.TxnID]
		if !ok {
			heldByTxn = make(map[Resource]struct{})
			m.held[r.TxnID] = heldByTxn
		}

		_, alreadyHeld := heldByTxn[r.Resource]
		assert.Assert(!alreadyHeld,
			"resource %+v is already locked by transaction %d", r.Resource, r.TxnID)

		heldByTxn[r.Resource] = struct{}{}
	}()

	q := m.queueFor(r.Resource)

	return q.Lock(r)
}

// Unlock releases one resource held by the transaction.
func (m *Manager) Unlock(txnID common.TransactionID, resource Resource) {
	func() {
		m.heldGuard.Lock()
		defer m.heldGuard.Unlock()

		heldByTxn, ok := m.held[txnID]
		assert.Assert(ok, "transaction %d holds no locks", txnID)

		_, holds := heldByTxn[resource]
		assert.Assert(holds, "transaction %d does not hold %+v", txnID, resource)
		delete(heldByTxn, resource)

		if len(heldByTxn) == 0 {
			delete(m.held, txnID)
		}
	}()

	m.release(txnID, resource)
}

// ReleaseAll releases every lock the transaction holds (and any still-pending
// requests). Safe to call for a transaction that holds nothing.
func (m *Manager) ReleaseAll(txnID common.TransactionID) {
	resources := func() map[Resource]struct{} {
		m.heldGuard.Lock()
		defer m.heldGuard.Unlock()

		resources := m.held[txnID]
		delete(m.held, txnID)

		return resources
	}()

	for resource := range resources {
		m.release(txnID, resource)
	}
}

func (m *Manager) queueFor(resource Resource) *txnQueue {
	m.qsGuard.Lock()
	defer m.qsGuard.Unlock()

	q, ok := m.qs[resource]
	if !ok {
		q = newTxnQueue()
		m.qs[resource] = q
	}

	return q
}

func (m *Manager) release(txnID common.TransactionID, resource Resource) {
	m.qsGuard.Lock()
	q, ok := m.qs[resource]
	m.qsGuard.Unlock()

	assert.Assert(ok, "no lock queue for resource %+v", resource)

	// The queue outlives its last holder: a concurrent Lock may already hold
	// a reference to it, so empty queues stay in the table.
	q.Unlock(txnID)
}
