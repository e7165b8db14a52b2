package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// RecoveryVisitor receives each fully recovered transaction in log order.
// Returning false stops the scan early.
type RecoveryVisitor func(tx *CommittedTransaction) (bool, error)

// ErrLogCorrupted reports an invalid entry with further entries behind it.
// Unlike a torn tail this can not be explained by a crash mid-write, so the
// store must not open.
var ErrLogCorrupted = errors.New("transaction log corrupted")

// LogFileRecoverer replays an existing log on startup. Complete,
// checksum-valid entries are handed to the visitor in order; a truncated or
// checksum-mismatching trailing entry is the normal shutdown-mid-write case
// and is silently excluded from replay.
type LogFileRecoverer struct {
	visitor RecoveryVisitor
	log     src.Logger
}

func NewLogFileRecoverer(visitor RecoveryVisitor, log src.Logger) *LogFileRecoverer {
	return &LogFileRecoverer{visitor: visitor, log: log}
}

// Recover scans every retained segment of logFile in ascending version order
// and returns the count of replayed transactions and the id of the last one.
// On a clean (or absent) log the visitor is never invoked.
func (r *LogFileRecoverer) Recover(logFile *LogFile) (count int, lastID common.TransactionID, err error) {
	versions, err := logFile.files.Versions()
	if err != nil {
		return 0, 0, err
	}

	for i, version := range versions {
		lastSegment := i == len(versions)-1

		n, last, err := r.recoverSegment(logFile, version, lastSegment)
		count += n
		if last != 0 {
			lastID = last
		}
		if err != nil {
			return count, lastID, err
		}
	}

	if count > 0 {
		r.log.Infow("transaction log recovered", "transactions", count, "lastTxId", lastID)
	}

	return count, lastID, nil
}

func (r *LogFileRecoverer) recoverSegment(
	logFile *LogFile,
	version common.LogVersion,
	lastSegment bool,
) (count int, lastID common.TransactionID, err error) {
	reader, err := logFile.ReaderFor(version)
	if err != nil {
		return 0, 0, fmt.Errorf("opening log version %d for recovery: %w", version, err)
	}
	defer func() { _ = reader.Close() }()

	pr := newPosReader(bufio.NewReader(reader), 0)

	for {
		tx, decodeErr := decodeEntry(pr, version, true)
		if decodeErr != nil {
			return count, lastID, r.classify(pr, version, lastSegment, decodeErr)
		}

		count++
		lastID = tx.ID

		cont, visitErr := r.visitor(tx)
		if visitErr != nil {
			return count, lastID, fmt.Errorf("recovery visitor on transaction %d: %w", tx.ID, visitErr)
		}
		if !cont {
			return count, lastID, nil
		}
	}
}

// classify decides whether a decode failure is the tolerated torn tail or
// fatal corruption. A failure is a torn tail only when it is the last thing
// in the last segment: nothing decodable may follow it.
func (r *LogFileRecoverer) classify(pr *posReader, version common.LogVersion, lastSegment bool, decodeErr error) error {
	if errors.Is(decodeErr, io.EOF) {
		// Clean entry boundary.
		return nil
	}

	truncatedTail := errors.Is(decodeErr, io.ErrUnexpectedEOF) ||
		(errors.Is(decodeErr, ErrChecksumMismatch) && !pr.hasMore())

	if truncatedTail && lastSegment {
		r.log.Warnw("incomplete transaction at log tail ignored",
			"version", version,
			"offset", pr.offset,
		)

		return nil
	}

	return fmt.Errorf("%w: entry at %d.%d: %v", ErrLogCorrupted, version, pr.offset, decodeErr)
}
