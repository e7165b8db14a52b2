package wal

import (
	"sync"

	"github.com/gvanjoic/neo4j/src/pkg/assert"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// IDOrderingQueue serializes post-append processing of transaction ids
// relative to a chosen fairness policy. The appender offers every id it
// assigns; downstream work waits for its id to reach the head and removes it
// when done. Bypass imposes no ordering at all.
type IDOrderingQueue interface {
	Offer(id common.TransactionID)
	WaitFor(id common.TransactionID)
	RemoveChecked(id common.TransactionID)
}

type bypassQueue struct{}

func (bypassQueue) Offer(common.TransactionID)         {}
func (bypassQueue) WaitFor(common.TransactionID)       {}
func (bypassQueue) RemoveChecked(common.TransactionID) {}

// Bypass assigns ids with no external ordering constraint.
var Bypass IDOrderingQueue = bypassQueue{}

// fifoIDOrderingQueue grants ids strictly in offer order. Waiters park on a
// channel that is closed when their id becomes the head, mirroring the lock
// queue's grant notification.
type fifoIDOrderingQueue struct {
	mu     sync.Mutex
	ids    []common.TransactionID
	grants map[common.TransactionID]chan struct{}
}

func NewFIFOIDOrderingQueue() IDOrderingQueue {
	return &fifoIDOrderingQueue{
		grants: make(map[common.TransactionID]chan struct{}),
	}
}

func (q *fifoIDOrderingQueue) Offer(id common.TransactionID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, present := q.grants[id]
	assert.Assert(!present, "transaction id %d offered twice", id)

	grant := make(chan struct{})
	q.ids = append(q.ids, id)
	q.grants[id] = grant

	if q.ids[0] == id {
		close(grant)
	}
}

func (q *fifoIDOrderingQueue) WaitFor(id common.TransactionID) {
	q.mu.Lock()
	grant, present := q.grants[id]
	q.mu.Unlock()

	assert.Assert(present, "waiting for transaction id %d that was never offered", id)

	<-grant
}

func (q *fifoIDOrderingQueue) RemoveChecked(id common.TransactionID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	assert.Assert(len(q.ids) > 0 && q.ids[0] == id,
		"transaction id %d removed out of order", id)

	q.ids = q.ids[1:]
	delete(q.grants, id)

	if len(q.ids) > 0 {
		close(q.grants[q.ids[0]])
	}
}
