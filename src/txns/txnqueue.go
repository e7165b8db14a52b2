package txns

import (
	"sync"

	"github.com/gvanjoic/neo4j/src/pkg/assert"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

type txnQueueEntry struct {
	r        LockRequest
	notifier chan struct{}
	granted  bool
}

// txnQueue is the per-resource wait queue. Requests are granted strictly in
// arrival order: a request is granted when every entry ahead of it holds a
// compatible mode. The notifier channel of an entry is closed at grant time,
// which is what a waiting transaction parks on.
type txnQueue struct {
	mu      sync.Mutex
	entries []*txnQueueEntry
}

func newTxnQueue() *txnQueue {
	return &txnQueue{}
}

// Lock enqueues r and returns the channel that closes once the lock is held.
// The same transaction must not lock the same resource twice; re-entrant
// acquisition is the manager's job to prevent.
func (q *txnQueue) Lock(r LockRequest) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		assert.Assert(e.r.TxnID != r.TxnID,
			"transaction %d already queued on resource %+v", r.TxnID, r.Resource)
	}

	entry := &txnQueueEntry{r: r, notifier: make(chan struct{})}
	q.entries = append(q.entries, entry)

	q.grantPrefixLocked()

	return entry.notifier
}

// Unlock removes the transaction's entry and grants whatever became
// unblocked.
func (q *txnQueue) Unlock(txnID common.TransactionID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	found := false
	for i, e := range q.entries {
		if e.r.TxnID == txnID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			found = true

			break
		}
	}
	assert.Assert(found, "transaction %d is not queued on this resource", txnID)

	q.grantPrefixLocked()
}

// grantPrefixLocked grants the longest mutually-compatible queue prefix.
// Only a prefix is ever in the granted state.
func (q *txnQueue) grantPrefixLocked() {
	for i, e := range q.entries {
		compatible := true
		for _, ahead := range q.entries[:i] {
			if !ahead.r.Mode.Compatible(e.r.Mode) {
				compatible = false

				break
			}
		}

		if !compatible {
			break
		}

		if !e.granted {
			e.granted = true
			close(e.notifier)
		}
	}
}
