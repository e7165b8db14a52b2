package wal

import (
	"fmt"
	"sync"

	"github.com/gvanjoic/neo4j/src"
)

// TransactionAppender serializes transactions into the log and assigns their
// ids. Append is the single serialization point across all committing
// transactions on one store: id assignment and the byte region written are
// both covered by one lock, so ids are strictly increasing in exactly durable
// write order and two entries never interleave.
type TransactionAppender struct {
	logFile  *LogFile
	idStore  *TransactionIDStore
	cache    *TransactionMetadataCache
	ordering IDOrderingQueue
	log      src.Logger

	mu sync.Mutex
}

func NewTransactionAppender(
	logFile *LogFile,
	idStore *TransactionIDStore,
	cache *TransactionMetadataCache,
	ordering IDOrderingQueue,
	log src.Logger,
) *TransactionAppender {
	return &TransactionAppender{
		logFile:  logFile,
		idStore:  idStore,
		cache:    cache,
		ordering: ordering,
		log:      log,
	}
}

// Append durably writes tx and returns it with its assigned id, position and
// checksum. When Append returns, the id's metadata is resolvable immediately,
// via the cache or a log scan. An I/O failure is fatal to this transaction
// attempt; the buffered entry either reached the log whole or not at all.
func (a *TransactionAppender) Append(tx *TransactionRepresentation) (*CommittedTransaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.idStore.NextID()
	a.ordering.Offer(id)
	defer a.ordering.RemoveChecked(id)

	entry, checksum := encodeEntry(tx, id)

	position, err := a.logFile.Append(entry)
	if err != nil {
		// Nothing of the entry survives in the log, so the id can be handed
		// out again without leaving a gap.
		a.idStore.RollbackID(id)
		return nil, fmt.Errorf("appending transaction %d: %w", id, err)
	}

	if err := a.logFile.Flush(); err != nil {
		// The entry is whole in the log and may surface on recovery, so the
		// id stays allocated; it just is not published as committed.
		return nil, fmt.Errorf("flushing transaction %d: %w", id, err)
	}

	a.ordering.WaitFor(id)
	a.cache.Put(id, position, checksum)
	a.idStore.TransactionCommitted(id)

	a.log.Debugw("transaction appended",
		"txId", id,
		"position", position,
		"commands", len(tx.Commands),
	)

	return &CommittedTransaction{
		Transaction: *tx,
		ID:          id,
		Position:    position,
		Checksum:    checksum,
	}, nil
}
