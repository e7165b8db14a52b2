package kernel

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
	"github.com/gvanjoic/neo4j/src/storage/wal"
)

func TestCheckpointRoundtrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("store", 0o700))

	s := NewRecordStore()
	s.Apply(3, []commands.Command{
		commands.NodeCommand{After: commands.NodeRecord{ID: 1, InUse: true, NextRel: 4, NextProp: 9}},
		commands.LabelCommand{NodeID: 1, Label: 2, Added: true},
		commands.PropertyCommand{
			Owner:   commands.OwnerNode,
			OwnerID: 1,
			Key:     7,
			Change:  commands.PropertyAdded,
			After:   []byte("n"),
		},
		commands.RelationshipCommand{After: commands.RelationshipRecord{
			ID: 5, InUse: true, Type: 2, StartNode: 1, EndNode: 1,
		}},
		commands.PropertyCommand{
			Owner:   commands.OwnerRelationship,
			OwnerID: 5,
			Key:     8,
			Change:  commands.PropertyAdded,
			After:   []byte("r"),
		},
		commands.PropertyCommand{
			Owner:  commands.OwnerGraph,
			Key:    11,
			Change: commands.PropertyAdded,
			After:  []byte("g"),
		},
		commands.SchemaRuleCommand{
			RuleID:  6,
			Created: true,
			Rule:    encodeSchemaRule(SchemaRule{ID: 6, Label: 2, PropertyKey: 7, Constraint: true}),
		},
	}, nil)

	written, err := WriteCheckpoint(fs, "store/graph.checkpoint", s, 4)
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{LastApplied: 3, SafeVersion: 4}, written)

	restored := NewRecordStore()
	read, ok, err := ReadCheckpoint(fs, "store/graph.checkpoint", restored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, written, read)

	record, found := restored.ReadNode(1)
	require.True(t, found)
	assert.Equal(t, uint64(4), record.NextRel)

	node, ok := restored.NodeView(1)
	require.True(t, ok)
	assert.Contains(t, node.Labels, uint32(2))
	assert.Equal(t, []byte("n"), node.Properties[7])

	rel, ok := restored.RelationshipView(5)
	require.True(t, ok)
	assert.Equal(t, uint32(2), rel.Type)
	assert.Equal(t, []byte("r"), rel.Properties[8])

	assert.Equal(t, []byte("g"), restored.graphProps[11])

	rule, ok := restored.SchemaRule(6)
	require.True(t, ok)
	assert.True(t, rule.Constraint)

	assert.Equal(t, common.TransactionID(3), restored.LastAppliedID())
}

func TestCheckpointAbsentFile(t *testing.T) {
	s := NewRecordStore()

	checkpoint, ok, err := ReadCheckpoint(afero.NewMemMapFs(), "store/graph.checkpoint", s)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, checkpoint)
}

func TestCheckpointAllowsPruningAppliedSegments(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("store", 0o700))

	files := wal.NewLogFiles(fs, "store", wal.DefaultName)

	logFile, err := wal.OpenLogFile(fs, files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)

	idStore := wal.NewTransactionIDStore(common.BaseTransactionID)
	cache := wal.NewTransactionMetadataCache(16)
	appender := wal.NewTransactionAppender(logFile, idStore, cache, wal.Bypass, src.NoopLogger{})
	records := NewRecordStore()

	commitTx := func(cmds ...commands.Command) {
		committed, err := appender.Append(&wal.TransactionRepresentation{Commands: cmds})
		require.NoError(t, err)
		records.Apply(committed.ID, cmds, nil)
	}

	commitTx(commands.NodeCommand{After: commands.NodeRecord{ID: 1, InUse: true}})
	_, err = logFile.Rotate()
	require.NoError(t, err)
	commitTx(commands.NodeCommand{After: commands.NodeRecord{ID: 2, InUse: true}})

	// The checkpoint covers both transactions, so segment 0 is reclaimable.
	checkpoint, err := WriteCheckpoint(fs, "store/graph.checkpoint", records, logFile.CurrentPosition().Version)
	require.NoError(t, err)

	pruner, err := wal.NewPruner(fs, files, wal.KeepLastN(0), src.NoopLogger{})
	require.NoError(t, err)
	defer pruner.Close()
	require.NoError(t, pruner.Prune(checkpoint.SafeVersion))

	versions, err := files.Versions()
	require.NoError(t, err)
	assert.Equal(t, []common.LogVersion{1}, versions)

	require.NoError(t, logFile.Close())

	// A restart restores the snapshot and replays only the retained tail;
	// nothing the pruner removed is lost.
	reopened, err := wal.OpenLogFile(fs, files, 1<<20, src.NoopLogger{})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	restored := NewRecordStore()
	readBack, ok, err := ReadCheckpoint(fs, "store/graph.checkpoint", restored)
	require.NoError(t, err)
	require.True(t, ok)

	applied := 0
	_, lastID, err := wal.NewLogFileRecoverer(func(tx *wal.CommittedTransaction) (bool, error) {
		if tx.ID > readBack.LastApplied {
			restored.Apply(tx.ID, tx.Transaction.Commands, nil)
			applied++
		}

		return true, nil
	}, src.NoopLogger{}).Recover(reopened)
	require.NoError(t, err)

	if readBack.LastApplied > lastID {
		lastID = readBack.LastApplied
	}
	assert.Equal(t, common.TransactionID(2), lastID)
	assert.Zero(t, applied, "everything retained was already inside the snapshot")

	for _, id := range []uint64{1, 2} {
		_, found := restored.ReadNode(id)
		assert.True(t, found, "node %d must survive pruning", id)
	}
}
