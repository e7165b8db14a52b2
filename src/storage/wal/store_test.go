package wal

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

type testStore struct {
	fs       afero.Fs
	files    *LogFiles
	logFile  *LogFile
	idStore  *TransactionIDStore
	cache    *TransactionMetadataCache
	appender *TransactionAppender
	store    *LogicalTransactionStore
}

func newTestStore(t *testing.T, fs afero.Fs) *testStore {
	t.Helper()

	files := newTestLogFiles(t, fs)

	logFile, err := OpenLogFile(fs, files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	_, lastID, err := NewLogFileRecoverer(func(*CommittedTransaction) (bool, error) {
		return true, nil
	}, src.NoopLogger{}).Recover(logFile)
	require.NoError(t, err)

	idStore := NewTransactionIDStore(lastID)
	cache := NewTransactionMetadataCache(100)
	appender := NewTransactionAppender(logFile, idStore, cache, Bypass, src.NoopLogger{})

	return &testStore{
		fs:       fs,
		files:    files,
		logFile:  logFile,
		idStore:  idStore,
		cache:    cache,
		appender: appender,
		store:    NewLogicalTransactionStore(logFile, appender, cache, src.NoopLogger{}),
	}
}

func TestStoreOpenCleanStore(t *testing.T) {
	newTestStore(t, afero.NewMemMapFs())
}

func TestStoreOpenAndRecoverExistingData(t *testing.T) {
	fs := afero.NewMemMapFs()

	s := newTestStore(t, fs)
	committed, err := s.store.Append(testTransaction(testCommands()...))
	require.NoError(t, err)
	require.NoError(t, s.logFile.Close())

	reopened, err := OpenLogFile(fs, s.files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	var recovered []*CommittedTransaction
	count, lastID, err := NewLogFileRecoverer(func(tx *CommittedTransaction) (bool, error) {
		recovered = append(recovered, tx)

		return true, nil
	}, src.NoopLogger{}).Recover(reopened)
	require.NoError(t, err)

	require.Equal(t, 1, count)
	assert.Equal(t, committed.ID, lastID)

	got := recovered[0].Transaction
	assert.Equal(t, []byte{1, 2, 5}, got.AdditionalHeader)
	assert.Equal(t, int32(2), got.MasterID)
	assert.Equal(t, int32(1), got.AuthorID)
	assert.Equal(t, int64(12345), got.TimeStarted)
	assert.Equal(t, common.TransactionID(4545), got.LatestCommittedWhenStarted)
	assert.Equal(t, int64(12355), got.TimeCommitted)
	assert.Equal(t, testCommands(), got.Commands)
	assert.Equal(t, committed.Checksum, recovered[0].Checksum)
}

func TestStoreMetadataHitsCache(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs())

	committed, err := s.store.Append(testTransaction(testCommands()...))
	require.NoError(t, err)

	meta, err := s.store.Metadata(committed.ID)
	require.NoError(t, err)
	assert.Equal(t, committed.Position, meta.Position)
	assert.Equal(t, committed.Checksum, meta.Checksum)
}

func TestStoreMetadataSurvivesCacheClear(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs())

	committed, err := s.store.Append(testTransaction(testCommands()...))
	require.NoError(t, err)

	cached, err := s.store.Metadata(committed.ID)
	require.NoError(t, err)

	// A miss falls back to scanning the retained segments and must come up
	// with exactly the same answer.
	s.cache.Clear()
	require.Zero(t, s.cache.Len())

	scanned, err := s.store.Metadata(committed.ID)
	require.NoError(t, err)
	assert.Equal(t, cached, scanned)

	// The scan result was re-cached.
	assert.Equal(t, 1, s.cache.Len())
}

func TestStoreMetadataFindsTransactionInRotatedSegment(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs())

	first, err := s.store.Append(testTransaction(testCommands()...))
	require.NoError(t, err)

	_, err = s.logFile.Rotate()
	require.NoError(t, err)

	second, err := s.store.Append(testTransaction())
	require.NoError(t, err)
	require.Equal(t, common.LogVersion(1), second.Position.Version)

	s.cache.Clear()

	meta, err := s.store.Metadata(first.ID)
	require.NoError(t, err)
	assert.Equal(t, common.LogVersion(0), meta.Position.Version)
	assert.Equal(t, first.Position, meta.Position)
}

func TestStoreMetadataUnknownTransaction(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs())

	_, err := s.store.Append(testTransaction(testCommands()...))
	require.NoError(t, err)

	_, err = s.store.Metadata(99)
	assert.ErrorIs(t, err, ErrNoSuchTransaction)
}

// newScanOnlyStore wires a store over pre-written segments without running
// recovery first, so scans over damaged logs can be exercised directly.
func newScanOnlyStore(t *testing.T, fs afero.Fs, files *LogFiles) *LogicalTransactionStore {
	t.Helper()

	logFile, err := OpenLogFile(fs, files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	idStore := NewTransactionIDStore(common.BaseTransactionID)
	cache := NewTransactionMetadataCache(16)
	appender := NewTransactionAppender(logFile, idStore, cache, Bypass, src.NoopLogger{})

	return NewLogicalTransactionStore(logFile, appender, cache, src.NoopLogger{})
}

func TestStoreMetadataScanFailsOnCorruptionInOlderSegment(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := newTestLogFiles(t, fs)

	corrupted := encodedEntry(t, 1)
	corrupted[len(corrupted)-1] ^= 0xff
	writeSegment(t, fs, files, 0, corrupted)
	writeSegment(t, fs, files, 1, encodedEntry(t, 2))

	store := newScanOnlyStore(t, fs, files)

	// An undecodable entry before the current tail is corruption, never a
	// not-found answer.
	_, err := store.Metadata(2)
	assert.ErrorIs(t, err, ErrLogCorrupted)
	assert.NotErrorIs(t, err, ErrNoSuchTransaction)
}

func TestStoreMetadataScanToleratesTornTailInLastSegment(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := newTestLogFiles(t, fs)

	whole := encodedEntry(t, 1)
	torn := encodedEntry(t, 2)
	writeSegment(t, fs, files, 0, append(whole, torn[:len(torn)-3]...))

	store := newScanOnlyStore(t, fs, files)

	meta, err := store.Metadata(1)
	require.NoError(t, err)
	assert.Equal(t, common.LogPosition{Version: 0, Offset: 0}, meta.Position)

	_, err = store.Metadata(2)
	assert.ErrorIs(t, err, ErrNoSuchTransaction)
}
