package txns

import (
	"sync"

	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// Client is the per-transaction face of the lock manager. Exactly one
// transaction owns a client for its lifetime. The client tracks what it
// holds, so re-acquiring a held resource is a no-op and a shared hold
// upgrades in place when an exclusive one is requested. Close releases
// everything still held and is idempotent, so every exit path can call it
// safely.
type Client struct {
	mgr   *Manager
	txnID common.TransactionID

	mu     sync.Mutex
	held   map[Resource]LockMode
	closed bool
}

func (m *Manager) NewClient(txnID common.TransactionID) *Client {
	return &Client{mgr: m, txnID: txnID, held: map[Resource]LockMode{}}
}

func (c *Client) TxnID() common.TransactionID {
	return c.txnID
}

// Holds reports whether this client already holds resource in any mode.
func (c *Client) Holds(resource Resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.held[resource]

	return ok
}

// AcquireShared blocks until a shared lock on resource is held. An existing
// hold in either mode already covers it.
func (c *Client) AcquireShared(resource Resource) {
	c.mu.Lock()
	if _, ok := c.held[resource]; ok {
		c.mu.Unlock()

		return
	}
	c.held[resource] = LockShared
	c.mu.Unlock()

	<-c.mgr.Lock(LockRequest{TxnID: c.txnID, Resource: resource, Mode: LockShared})
}

// AcquireExclusive blocks until an exclusive lock on resource is held. A
// shared hold is upgraded by releasing and re-queueing exclusively.
func (c *Client) AcquireExclusive(resource Resource) {
	c.mu.Lock()
	mode, ok := c.held[resource]
	if ok && mode == LockExclusive {
		c.mu.Unlock()

		return
	}
	c.held[resource] = LockExclusive
	c.mu.Unlock()

	if ok && mode == LockShared {
		c.mgr.Unlock(c.txnID, resource)
	}

	<-c.mgr.Lock(LockRequest{TxnID: c.txnID, Resource: resource, Mode: LockExclusive})
}

// Release releases a single resource.
func (c *Client) Release(resource Resource) {
	c.mu.Lock()
	delete(c.held, resource)
	c.mu.Unlock()

	c.mgr.Unlock(c.txnID, resource)
}

// Close releases all locks held by the owning transaction, exactly once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.held = map[Resource]LockMode{}

	c.mgr.ReleaseAll(c.txnID)
}

// LockGroup scopes locks acquired during one commit attempt. Its release is
// tied to scope exit (defer), so the locks go away on success, error and
// panic alike without manual acquire/release pairing. Resources the owning
// client already held are left to the client to release.
type LockGroup struct {
	client *Client

	mu       sync.Mutex
	acquired []Resource
	closed   bool
}

func NewLockGroup(client *Client) *LockGroup {
	return &LockGroup{client: client}
}

func (g *LockGroup) AcquireExclusive(resource Resource) {
	if g.client.Holds(resource) {
		return
	}

	g.client.AcquireExclusive(resource)

	g.mu.Lock()
	g.acquired = append(g.acquired, resource)
	g.mu.Unlock()
}

func (g *LockGroup) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true

	// When the owning client is already closed its ReleaseAll has freed the
	// group's resources too.
	g.client.mu.Lock()
	clientClosed := g.client.closed
	g.client.mu.Unlock()

	if !clientClosed {
		for _, resource := range g.acquired {
			g.client.Release(resource)
		}
	}
	g.acquired = nil
}
