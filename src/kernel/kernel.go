package kernel

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/wal"
	"github.com/gvanjoic/neo4j/src/txns"
)

// Options carry the kernel's identity and mode.
type Options struct {
	ReadOnly bool
	MasterID int32
	AuthorID int32

	// Clock defaults to time.Now. Tests pin it.
	Clock func() time.Time
}

// Kernel owns everything a transaction needs: the lock manager, the
// transaction pool, the commit pipeline, caches and hooks. One Kernel per
// database.
type Kernel struct {
	log src.Logger

	locks         *txns.Manager
	pool          *transactionPool
	idStore       *wal.TransactionIDStore
	commitProcess CommitProcess

	records     *RecordStore
	persistence *PersistenceCache
	registry    *IndexRegistry
	schemaState *SchemaState
	hooks       *Hooks
	monitor     *TransactionMonitor
	ids         *entityIDAllocator

	// header identifies this store instance inside every log entry.
	header   []byte
	masterID int32
	authorID int32
	readOnly bool
	clock    func() time.Time

	lockClientSeq atomic.Uint64
}

func NewKernel(
	store *wal.LogicalTransactionStore,
	idStore *wal.TransactionIDStore,
	records *RecordStore,
	opts Options,
	log src.Logger,
) *Kernel {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	storeID := uuid.New()

	k := &Kernel{
		log:         log,
		locks:       txns.NewManager(),
		idStore:     idStore,
		records:     records,
		persistence: NewPersistenceCache(),
		registry:    NewIndexRegistry(),
		schemaState: NewSchemaState(),
		hooks:       NewHooks(),
		monitor:     NewTransactionMonitor(log),
		ids:         &entityIDAllocator{},
		header:      storeID[:],
		masterID:    opts.MasterID,
		authorID:    opts.AuthorID,
		readOnly:    opts.ReadOnly,
		clock:       clock,
	}
	k.pool = newTransactionPool(k)
	k.commitProcess = NewStoreCommitProcess(store, records, log)

	return k
}

// BeginTransaction starts a new transaction backed by a pooled instance and a
// fresh lock client.
func (k *Kernel) BeginTransaction() *KernelTransaction {
	client := k.locks.NewClient(common.TransactionID(k.lockClientSeq.Add(1)))

	tx := k.pool.Acquire()
	tx.Initialize(client, k.idStore.LastCommittedID())
	k.monitor.TransactionStarted()

	return tx
}

func (k *Kernel) RegisterHook(hook Hook) {
	k.hooks.Register(hook)
}

func (k *Kernel) Monitor() *TransactionMonitor {
	return k.monitor
}

func (k *Kernel) SchemaState() *SchemaState {
	return k.schemaState
}

func (k *Kernel) IndexRegistry() *IndexRegistry {
	return k.registry
}

func (k *Kernel) PersistenceCache() *PersistenceCache {
	return k.persistence
}

// entityIDAllocator hands out node, relationship and schema rule ids.
type entityIDAllocator struct {
	nodes uint64
	rels  uint64
	rules uint64
}

func (a *entityIDAllocator) nextNodeID() uint64 {
	return atomic.AddUint64(&a.nodes, 1)
}

func (a *entityIDAllocator) nextRelationshipID() uint64 {
	return atomic.AddUint64(&a.rels, 1)
}

func (a *entityIDAllocator) nextSchemaRuleID() uint64 {
	return atomic.AddUint64(&a.rules, 1)
}
