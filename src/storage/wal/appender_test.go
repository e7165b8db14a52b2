package wal

import (
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

func TestAppenderAssignsSequentialIDs(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs())

	for want := common.TransactionID(1); want <= 5; want++ {
		committed, err := s.appender.Append(testTransaction(testCommands()...))
		require.NoError(t, err)
		assert.Equal(t, want, committed.ID)

		meta, ok := s.cache.Get(committed.ID)
		require.True(t, ok, "append must leave the id resolvable in the cache")
		assert.Equal(t, committed.Position, meta.Position)
	}

	assert.Equal(t, common.TransactionID(5), s.idStore.LastCommittedID())
}

func TestAppenderConcurrentAppendsAreLinearizable(t *testing.T) {
	const writers = 20

	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs)

	var eg errgroup.Group
	results := make([]common.TransactionID, writers)

	for i := 0; i < writers; i++ {
		i := i
		eg.Go(func() error {
			committed, err := s.appender.Append(testTransaction(testCommands()...))
			if err != nil {
				return err
			}
			results[i] = committed.ID

			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// Every id in 1..writers was assigned exactly once.
	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, id := range results {
		assert.Equal(t, common.TransactionID(i+1), id)
	}

	// The log itself is a sequence of whole, checksum-valid entries whose ids
	// appear in exactly durable write order.
	require.NoError(t, s.logFile.Close())

	reopened, err := OpenLogFile(fs, s.files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	var ids []common.TransactionID
	count, _, err := NewLogFileRecoverer(collectingVisitor(&ids), src.NoopLogger{}).Recover(reopened)
	require.NoError(t, err)
	require.Equal(t, writers, count)

	for i, id := range ids {
		assert.Equal(t, common.TransactionID(i+1), id)
	}
}

func TestAppenderFailedAppendRollsBackID(t *testing.T) {
	ctl := &flakyWriteControl{failOnWrite: 2}
	fs := &flakyWriteFs{Fs: afero.NewMemMapFs(), ctl: ctl}
	s := newTestStore(t, fs)

	first, err := s.appender.Append(testTransaction(testCommands()...))
	require.NoError(t, err)
	require.Equal(t, common.TransactionID(1), first.ID)

	_, err = s.appender.Append(testTransaction(testCommands()...))
	require.ErrorIs(t, err, errDiskFull)

	// The failed attempt neither advanced the committed horizon nor burned
	// its id.
	assert.Equal(t, common.TransactionID(1), s.idStore.LastCommittedID())

	second, err := s.appender.Append(testTransaction(testCommands()...))
	require.NoError(t, err)
	assert.Equal(t, common.TransactionID(2), second.ID)
	assert.Equal(t, common.TransactionID(2), s.idStore.LastCommittedID())

	// The log replays without a gap.
	require.NoError(t, s.logFile.Close())

	reopened, err := OpenLogFile(fs, s.files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	var ids []common.TransactionID
	_, _, err = NewLogFileRecoverer(collectingVisitor(&ids), src.NoopLogger{}).Recover(reopened)
	require.NoError(t, err)
	assert.Equal(t, []common.TransactionID{1, 2}, ids)
}

func TestAppenderWithFIFOOrdering(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := newTestLogFiles(t, fs)

	logFile, err := OpenLogFile(fs, files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	idStore := NewTransactionIDStore(common.BaseTransactionID)
	cache := NewTransactionMetadataCache(16)
	appender := NewTransactionAppender(logFile, idStore, cache, NewFIFOIDOrderingQueue(), src.NoopLogger{})

	var eg errgroup.Group
	for i := 0; i < 10; i++ {
		eg.Go(func() error {
			_, err := appender.Append(testTransaction(testCommands()...))

			return err
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, common.TransactionID(10), idStore.LastCommittedID())
}
