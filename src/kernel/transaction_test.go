package kernel

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
	"github.com/gvanjoic/neo4j/src/storage/wal"
)

func newTestKernel(t *testing.T, opts Options) (*Kernel, *RecordStore, *wal.TransactionIDStore) {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("store", 0o700))

	files := wal.NewLogFiles(fs, "store", wal.DefaultName)

	logFile, err := wal.OpenLogFile(fs, files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	idStore := wal.NewTransactionIDStore(common.BaseTransactionID)
	cache := wal.NewTransactionMetadataCache(128)
	appender := wal.NewTransactionAppender(logFile, idStore, cache, wal.Bypass, src.NoopLogger{})
	store := wal.NewLogicalTransactionStore(logFile, appender, cache, src.NoopLogger{})

	records := NewRecordStore()

	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.UnixMilli(12355) }
	}

	return NewKernel(store, idStore, records, opts, src.NoopLogger{}), records, idStore
}

func createNode(t *testing.T, tx *KernelTransaction) uint64 {
	t.Helper()

	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)
	defer func() { require.NoError(t, stmt.Close()) }()

	id, err := stmt.NodeCreate()
	require.NoError(t, err)

	return id
}

func TestTransactionCommitAppliesChanges(t *testing.T) {
	k, records, idStore := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	id := createNode(t, tx)
	tx.Success()
	require.NoError(t, tx.Close())

	_, found := records.ReadNode(id)
	assert.True(t, found)
	assert.Equal(t, common.TransactionID(1), idStore.LastCommittedID())
	assert.Equal(t, uint64(1), k.Monitor().Committed())
	assert.Equal(t, uint64(1), k.Monitor().Started())
}

func TestTransactionFailureRollsBack(t *testing.T) {
	k, records, idStore := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	id := createNode(t, tx)
	tx.Failure()
	require.NoError(t, tx.Close())

	_, found := records.ReadNode(id)
	assert.False(t, found)
	assert.Equal(t, common.BaseTransactionID, idStore.LastCommittedID())
	assert.Equal(t, uint64(1), k.Monitor().RolledBack())
}

func TestTransactionSuccessAndFailureConflict(t *testing.T) {
	k, records, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	id := createNode(t, tx)
	tx.Success()
	tx.Failure()

	err := tx.Close()
	assert.ErrorIs(t, err, ErrRolledBackDespiteSuccess)

	_, found := records.ReadNode(id)
	assert.False(t, found)
}

func TestTransactionDoubleClose(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	tx.Success()
	require.NoError(t, tx.Close())

	assert.ErrorIs(t, tx.Close(), ErrTransactionClosed)
}

func TestTransactionTermination(t *testing.T) {
	k, records, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	id := createNode(t, tx)
	tx.Success()

	tx.MarkForTermination()
	tx.MarkForTermination() // idempotent
	assert.True(t, tx.ShouldBeTerminated())
	assert.Equal(t, uint64(1), k.Monitor().Terminated())

	// Terminated transactions reject further work.
	_, err := tx.AcquireStatement()
	assert.ErrorIs(t, err, ErrTransactionTerminated)

	// Termination beats Success.
	assert.ErrorIs(t, tx.Close(), ErrRolledBackDespiteSuccess)

	_, found := records.ReadNode(id)
	assert.False(t, found)
	assert.Equal(t, uint64(1), k.Monitor().RolledBack())
}

func TestReadOnlyTransactionConsumesNoID(t *testing.T) {
	k, _, idStore := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	tx.Success()
	require.NoError(t, tx.Close())

	assert.Equal(t, common.BaseTransactionID, idStore.LastCommittedID())
	assert.Equal(t, uint64(1), k.Monitor().Committed())
}

func TestNetZeroTransactionConsumesNoID(t *testing.T) {
	k, _, idStore := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	id, err := stmt.NodeCreate()
	require.NoError(t, err)
	require.NoError(t, stmt.NodeDelete(id))
	require.NoError(t, stmt.Close())

	tx.Success()
	require.NoError(t, tx.Close())

	// Create and delete inside one transaction cancel out: nothing reaches
	// the log.
	assert.Equal(t, common.BaseTransactionID, idStore.LastCommittedID())
	assert.Equal(t, uint64(1), k.Monitor().Committed())
}

type recordingHook struct {
	veto error

	beforeCalls   int
	afterCommits  int
	afterRollback int
}

func (h *recordingHook) BeforeCommit(*TxState) error {
	h.beforeCalls++

	return h.veto
}

func (h *recordingHook) AfterCommit(*TxState)   { h.afterCommits++ }
func (h *recordingHook) AfterRollback(*TxState) { h.afterRollback++ }

func TestHookVetoRollsBack(t *testing.T) {
	k, records, _ := newTestKernel(t, Options{})

	hook := &recordingHook{veto: errors.New("not on my watch")}
	k.RegisterHook(hook)

	tx := k.BeginTransaction()
	id := createNode(t, tx)
	tx.Success()

	err := tx.Close()
	assert.ErrorIs(t, err, ErrHookFailed)

	_, found := records.ReadNode(id)
	assert.False(t, found)
	assert.Equal(t, 1, hook.beforeCalls)
	assert.Equal(t, 0, hook.afterCommits)
	assert.Equal(t, 1, hook.afterRollback)
}

func TestHookObservesCommit(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	hook := &recordingHook{}
	k.RegisterHook(hook)

	tx := k.BeginTransaction()
	createNode(t, tx)
	tx.Success()
	require.NoError(t, tx.Close())

	assert.Equal(t, 1, hook.beforeCalls)
	assert.Equal(t, 1, hook.afterCommits)
	assert.Equal(t, 0, hook.afterRollback)
}

func TestDataAndSchemaUpdatesDoNotMix(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	_, err = stmt.NodeCreate()
	require.NoError(t, err)

	_, err = stmt.IndexCreate(1, 2)
	assert.ErrorIs(t, err, ErrSchemaAfterData)

	require.NoError(t, stmt.Close())
	tx.Failure()
	require.NoError(t, tx.Close())

	tx = k.BeginTransaction()
	stmt, err = tx.AcquireStatement()
	require.NoError(t, err)

	_, err = stmt.IndexCreate(1, 2)
	require.NoError(t, err)

	_, err = stmt.NodeCreate()
	assert.ErrorIs(t, err, ErrDataAfterSchema)

	require.NoError(t, stmt.Close())
	tx.Failure()
	require.NoError(t, tx.Close())
}

func TestReadOnlyDatabaseRejectsWrites(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{ReadOnly: true})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	_, err = stmt.NodeCreate()
	assert.ErrorIs(t, err, ErrReadOnlyDatabase)

	_, err = stmt.IndexCreate(1, 2)
	assert.ErrorIs(t, err, ErrReadOnlyDatabase)

	require.NoError(t, stmt.Close())
	require.NoError(t, tx.Close())
}

func TestTransactionPoolReuse(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	tx1 := k.BeginTransaction()
	createNode(t, tx1)
	tx1.Failure()
	require.NoError(t, tx1.Close())

	tx2 := k.BeginTransaction()
	assert.Same(t, tx1, tx2, "closed transaction should be pooled and reused")

	// The reused instance starts a fresh life.
	assert.False(t, tx2.ShouldBeTerminated())
	id := createNode(t, tx2)
	tx2.Success()
	require.NoError(t, tx2.Close())

	_, found := k.records.ReadNode(id)
	assert.True(t, found)
}

func TestConstraintIndexDroppedOnRollback(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	rule, err := stmt.ConstraintCreate(1, 2)
	require.NoError(t, err)
	assert.True(t, k.IndexRegistry().Has(rule.ID), "backing index exists while the transaction is open")

	require.NoError(t, stmt.Close())
	tx.Failure()
	require.NoError(t, tx.Close())

	assert.False(t, k.IndexRegistry().Has(rule.ID), "backing index must not survive rollback")
}

func TestConstraintIndexSurvivesCommit(t *testing.T) {
	k, records, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	rule, err := stmt.ConstraintCreate(1, 2)
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	tx.Success()
	require.NoError(t, tx.Close())

	assert.True(t, k.IndexRegistry().Has(rule.ID))

	stored, ok := records.SchemaRule(rule.ID)
	require.True(t, ok)
	assert.Equal(t, rule, stored)
}

func TestSchemaCommitInvalidatesSchemaState(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	k.SchemaState().Put("labels", []string{"Person"})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	_, err = stmt.IndexCreate(1, 2)
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	tx.Success()
	require.NoError(t, tx.Close())

	_, ok := k.SchemaState().Get("labels")
	assert.False(t, ok, "schema-derived state must be cleared by schema commits")
}

func TestStatementReferenceCounting(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()

	s1, err := tx.AcquireStatement()
	require.NoError(t, err)
	s2, err := tx.AcquireStatement()
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	require.NoError(t, s1.Close())

	// One reference remains, the statement is still usable.
	_, err = s2.NodeCreate()
	require.NoError(t, err)

	require.NoError(t, s2.Close())
	assert.ErrorIs(t, s2.Close(), ErrStatementClosed)

	_, err = s2.NodeCreate()
	assert.ErrorIs(t, err, ErrStatementClosed)

	tx.Failure()
	require.NoError(t, tx.Close())
}

func TestCommittedChangesVisibleThroughPersistenceCache(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	id, err := stmt.NodeCreate()
	require.NoError(t, err)
	require.NoError(t, stmt.NodeSetProperty(id, 7, []byte("neo")))
	require.NoError(t, stmt.NodeAddLabel(id, 3))
	require.NoError(t, stmt.Close())

	tx.Success()
	require.NoError(t, tx.Close())

	node, ok := k.PersistenceCache().GetNode(id)
	require.True(t, ok)
	assert.Equal(t, []byte("neo"), node.Properties[7])
	assert.Contains(t, node.Labels, uint32(3))
}

func TestRolledBackChangesEvictedFromPersistenceCache(t *testing.T) {
	k, _, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	id := createNode(t, tx)
	tx.Failure()
	require.NoError(t, tx.Close())

	_, ok := k.PersistenceCache().GetNode(id)
	assert.False(t, ok)
}

func TestManualIndexCommandsCommitLikeRecordChanges(t *testing.T) {
	k, records, idStore := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	tx.LegacyIndexState().Add(commands.NodeCommand{
		After: commands.NodeRecord{ID: 77, InUse: true},
	})
	tx.Success()
	require.NoError(t, tx.Close())

	// The buffered command consumed an id and was applied to the store.
	assert.Equal(t, common.TransactionID(1), idStore.LastCommittedID())
	_, found := records.ReadNode(77)
	assert.True(t, found)

	// A fresh life of the pooled transaction starts with an empty buffer and
	// stays on the read-only fast path.
	tx2 := k.BeginTransaction()
	assert.True(t, tx2.LegacyIndexState().IsReadOnly())
	tx2.Success()
	require.NoError(t, tx2.Close())
	assert.Equal(t, common.TransactionID(1), idStore.LastCommittedID())
}

func TestRelationshipPropertyExistenceFallsBackToRecordStore(t *testing.T) {
	k, records, _ := newTestKernel(t, Options{})

	// After a restart the persistence cache is cold while the record store
	// has been rebuilt from the log.
	records.Apply(1, []commands.Command{
		commands.RelationshipCommand{After: commands.RelationshipRecord{
			ID: 5, InUse: true, Type: 2, StartNode: 1, EndNode: 3,
		}},
		commands.PropertyCommand{
			Owner:   commands.OwnerRelationship,
			OwnerID: 5,
			Key:     9,
			Change:  commands.PropertyAdded,
			After:   []byte("w"),
		},
	}, nil)

	view, ok := records.RelationshipView(5)
	require.True(t, ok)
	assert.Equal(t, []byte("w"), view.Properties[9])

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	// Setting the property again must classify as a change, not an add.
	require.NoError(t, stmt.RelationshipSetProperty(5, 9, []byte("w2")))

	v := &relPropVisitor{}
	tx.TxState().Accept(v)
	assert.Empty(t, v.added)
	assert.Equal(t, []PropertyDelta{{Key: 9, Value: []byte("w2")}}, v.changed)

	assert.False(t, stmt.relationshipPropertyExists(5, 10))
	assert.False(t, stmt.relationshipPropertyExists(6, 9))

	require.NoError(t, stmt.Close())
	tx.Failure()
	require.NoError(t, tx.Close())
}

type relPropVisitor struct {
	collectingVisitor
	added   []PropertyDelta
	changed []PropertyDelta
}

func (v *relPropVisitor) VisitRelationshipPropertyChanges(_ uint64, added, changed []PropertyDelta, _ []uint32) {
	v.added = append(v.added, added...)
	v.changed = append(v.changed, changed...)
}

func TestRelationshipCommit(t *testing.T) {
	k, records, _ := newTestKernel(t, Options{})

	tx := k.BeginTransaction()
	stmt, err := tx.AcquireStatement()
	require.NoError(t, err)

	start, err := stmt.NodeCreate()
	require.NoError(t, err)
	end, err := stmt.NodeCreate()
	require.NoError(t, err)
	relID, err := stmt.RelationshipCreate(9, start, end)
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	tx.Success()
	require.NoError(t, tx.Close())

	rel, ok := k.PersistenceCache().GetRelationship(relID)
	require.True(t, ok)
	assert.Equal(t, uint32(9), rel.Type)
	assert.Equal(t, start, rel.StartNode)
	assert.Equal(t, end, rel.EndNode)

	_, found := records.ReadNode(start)
	assert.True(t, found)
}
