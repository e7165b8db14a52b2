package wal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// LogFile is the append-only byte stream over the current segment. It owns
// rotation: once the segment size exceeds the configured threshold after a
// completed append, the next entry goes to a fresh segment. A single entry is
// never split across segments.
//
// Callers never write to the underlying file directly; the appender is the
// only writer and appends are serialized by the appender's lock.
type LogFile struct {
	fs    afero.Fs
	files *LogFiles
	log   src.Logger

	rotateThreshold int64

	mu      sync.Mutex
	version common.LogVersion
	out     afero.File
	size    int64
	failed  error
}

// OpenLogFile opens the highest-version segment for appending, creating
// version 0 for a new store. Recovery must already have run against the
// existing segments before the first append.
func OpenLogFile(
	fs afero.Fs,
	files *LogFiles,
	rotateThreshold int64,
	log src.Logger,
) (*LogFile, error) {
	version, ok, err := files.HighestVersion()
	if err != nil {
		return nil, err
	}
	if !ok {
		version = 0
	}

	path := files.FileFor(version)

	out, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log segment %s: %w", path, err)
	}

	info, err := fs.Stat(path)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("stat log segment %s: %w", path, err)
	}

	log.Infow("transaction log opened",
		"segment", path,
		"version", version,
		"size", info.Size(),
	)

	return &LogFile{
		fs:              fs,
		files:           files,
		log:             log,
		rotateThreshold: rotateThreshold,
		version:         version,
		out:             out,
		size:            info.Size(),
	}, nil
}

// Append writes one fully-encoded entry and returns the position of its
// first byte. A failed write is wiped back to the entry boundary so the next
// append starts on a clean prefix; if the wipe itself fails the log refuses
// all further appends, because an acknowledged entry behind a torn one would
// be unreachable to recovery. Rotation is checked after the append completes.
func (f *LogFile) Append(entry []byte) (common.LogPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.out == nil {
		return common.LogPosition{}, fmt.Errorf("append to a closed transaction log")
	}
	if f.failed != nil {
		return common.LogPosition{}, f.failed
	}

	pos := common.LogPosition{Version: f.version, Offset: uint64(f.size)}

	n, err := f.out.Write(entry)
	if err != nil {
		if n > 0 {
			if wipeErr := f.wipeTornTailLocked(); wipeErr != nil {
				f.failed = fmt.Errorf(
					"log version %d has a torn entry at offset %d that could not be removed: %w",
					f.version, f.size, wipeErr,
				)
				f.log.Errorw("transaction log disabled after unremovable torn entry",
					"version", f.version,
					"offset", f.size,
					"error", wipeErr,
				)
			}
		}

		return common.LogPosition{}, fmt.Errorf("appending %d bytes to log version %d: %w", len(entry), f.version, err)
	}

	f.size += int64(n)

	if f.size >= f.rotateThreshold {
		if err := f.rotateLocked(); err != nil {
			return common.LogPosition{}, err
		}
	}

	return pos, nil
}

// wipeTornTailLocked drops partially written bytes past f.size and rewinds
// the write offset, for filesystems that emulate append mode as an initial
// seek only.
func (f *LogFile) wipeTornTailLocked() error {
	if err := f.out.Truncate(f.size); err != nil {
		return err
	}

	_, err := f.out.Seek(f.size, io.SeekStart)

	return err
}

// Rotate cuts a new segment regardless of the size threshold.
func (f *LogFile) Rotate() (common.LogVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.rotateLocked(); err != nil {
		return 0, err
	}

	return f.version, nil
}

func (f *LogFile) rotateLocked() error {
	if err := f.out.Sync(); err != nil {
		return fmt.Errorf("syncing log version %d before rotation: %w", f.version, err)
	}
	if err := f.out.Close(); err != nil {
		return fmt.Errorf("closing log version %d before rotation: %w", f.version, err)
	}

	next := f.version + 1
	path := f.files.FileFor(next)

	out, err := f.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating log segment %s: %w", path, err)
	}

	f.log.Infow("transaction log rotated", "from", f.version, "to", next)

	f.version = next
	f.out = out
	f.size = 0

	return nil
}

// CurrentPosition is where the next appended entry will start.
func (f *LogFile) CurrentPosition() common.LogPosition {
	f.mu.Lock()
	defer f.mu.Unlock()

	return common.LogPosition{Version: f.version, Offset: uint64(f.size)}
}

// Flush forces buffered bytes to durable storage.
func (f *LogFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.out == nil {
		return nil
	}

	return f.out.Sync()
}

func (f *LogFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.out == nil {
		return nil
	}

	err := f.out.Sync()
	if closeErr := f.out.Close(); err == nil {
		err = closeErr
	}
	f.out = nil

	return err
}

// ReaderFor opens a retained segment for sequential reading. Used by
// recovery and by metadata scans on cache misses.
func (f *LogFile) ReaderFor(version common.LogVersion) (io.ReadCloser, error) {
	return f.fs.Open(f.files.FileFor(version))
}
