package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// ErrNoSuchTransaction reports a metadata lookup for an id that is neither
// cached nor present in any retained segment. The id may have been pruned
// away with its segment or may never have existed; the two cases cannot be
// told apart without out-of-band information.
var ErrNoSuchTransaction = errors.New("transaction not found in log")

// LogicalTransactionStore composes the log file, the appender and the
// metadata cache behind the two operations the kernel needs: append a
// transaction and look up where a committed transaction lives.
type LogicalTransactionStore struct {
	logFile  *LogFile
	appender *TransactionAppender
	cache    *TransactionMetadataCache
	log      src.Logger
}

func NewLogicalTransactionStore(
	logFile *LogFile,
	appender *TransactionAppender,
	cache *TransactionMetadataCache,
	log src.Logger,
) *LogicalTransactionStore {
	return &LogicalTransactionStore{
		logFile:  logFile,
		appender: appender,
		cache:    cache,
		log:      log,
	}
}

func (s *LogicalTransactionStore) Append(tx *TransactionRepresentation) (*CommittedTransaction, error) {
	return s.appender.Append(tx)
}

// Metadata resolves the log position and checksum of a committed transaction.
// Cache hits are O(1); on a miss the retained segments are scanned forward,
// decoding headers only, and the result is re-cached.
func (s *LogicalTransactionStore) Metadata(id common.TransactionID) (TransactionMetadata, error) {
	if meta, ok := s.cache.Get(id); ok {
		return meta, nil
	}

	meta, err := s.scanFor(id)
	if err != nil {
		return TransactionMetadata{}, err
	}

	s.cache.Put(id, meta.Position, meta.Checksum)

	return meta, nil
}

func (s *LogicalTransactionStore) scanFor(id common.TransactionID) (TransactionMetadata, error) {
	versions, err := s.logFile.files.Versions()
	if err != nil {
		return TransactionMetadata{}, err
	}

	earliest := common.LogVersion(0)
	if len(versions) > 0 {
		earliest = versions[0]
	}

	for i, version := range versions {
		meta, found, err := s.scanSegmentFor(version, id, i == len(versions)-1)
		if err != nil {
			return TransactionMetadata{}, err
		}
		if found {
			return meta, nil
		}
	}

	return TransactionMetadata{}, fmt.Errorf(
		"%w: id %d (earliest retained log version is %d; older history may have been pruned)",
		ErrNoSuchTransaction, id, earliest,
	)
}

func (s *LogicalTransactionStore) scanSegmentFor(version common.LogVersion, id common.TransactionID, lastSegment bool) (TransactionMetadata, bool, error) {
	reader, err := s.logFile.ReaderFor(version)
	if err != nil {
		return TransactionMetadata{}, false, fmt.Errorf("opening log version %d for scan: %w", version, err)
	}
	defer func() { _ = reader.Close() }()

	pr := newPosReader(bufio.NewReader(reader), 0)

	for {
		tx, err := decodeEntry(pr, version, false)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Clean entry boundary.
				return TransactionMetadata{}, false, nil
			}

			// The scan shares recovery's tail tolerance: whatever was torn
			// off the tail of the last segment was never committed, so it
			// cannot match id. Anywhere else an undecodable entry is
			// corruption, not a miss.
			truncatedTail := errors.Is(err, io.ErrUnexpectedEOF) ||
				(errors.Is(err, ErrChecksumMismatch) && !pr.hasMore())
			if truncatedTail && lastSegment {
				return TransactionMetadata{}, false, nil
			}

			return TransactionMetadata{}, false, fmt.Errorf("%w: entry at %d.%d: %v", ErrLogCorrupted, version, pr.offset, err)
		}

		if tx.ID == id {
			return TransactionMetadata{Position: tx.Position, Checksum: tx.Checksum}, true, nil
		}
	}
}
