package wal

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
)

func testCommands() []commands.Command {
	return []commands.Command{
		commands.NodeCommand{
			Before: commands.NodeRecord{ID: 7},
			After:  commands.NodeRecord{ID: 7, InUse: true},
		},
		commands.RelationshipCommand{
			Before: commands.RelationshipRecord{ID: 3},
			After:  commands.RelationshipRecord{ID: 3, InUse: true, Type: 2, StartNode: 7, EndNode: 8},
		},
		commands.PropertyCommand{
			Owner:   commands.OwnerNode,
			OwnerID: 7,
			Key:     11,
			Change:  commands.PropertyChanged,
			Before:  []byte("old"),
			After:   []byte("new"),
		},
		commands.LabelCommand{NodeID: 7, Label: 4, Added: true},
		commands.SchemaRuleCommand{RuleID: 9, Created: true, Rule: []byte{0xde, 0xad}},
	}
}

func testTransaction(cmds ...commands.Command) *TransactionRepresentation {
	return &TransactionRepresentation{
		Commands:                   cmds,
		AdditionalHeader:           []byte{1, 2, 5},
		MasterID:                   2,
		AuthorID:                   1,
		TimeStarted:                12345,
		LatestCommittedWhenStarted: 4545,
		TimeCommitted:              12355,
	}
}

func TestEntryRoundtrip(t *testing.T) {
	tx := testTransaction(testCommands()...)

	entry, checksum := encodeEntry(tx, 42)

	decoded, err := decodeEntry(newPosReader(bytes.NewReader(entry), 0), 3, true)
	require.NoError(t, err)

	assert.Equal(t, common.TransactionID(42), decoded.ID)
	assert.Equal(t, common.LogPosition{Version: 3, Offset: 0}, decoded.Position)
	assert.Equal(t, checksum, decoded.Checksum)
	assert.Equal(t, tx.AdditionalHeader, decoded.Transaction.AdditionalHeader)
	assert.Equal(t, tx.MasterID, decoded.Transaction.MasterID)
	assert.Equal(t, tx.AuthorID, decoded.Transaction.AuthorID)
	assert.Equal(t, tx.TimeStarted, decoded.Transaction.TimeStarted)
	assert.Equal(t, tx.LatestCommittedWhenStarted, decoded.Transaction.LatestCommittedWhenStarted)
	assert.Equal(t, tx.TimeCommitted, decoded.Transaction.TimeCommitted)
	assert.Equal(t, tx.Commands, decoded.Transaction.Commands)
}

func TestEntryHeaderOnlyDecodeSkipsCommandBodies(t *testing.T) {
	tx := testTransaction(testCommands()...)

	entry, checksum := encodeEntry(tx, 7)

	decoded, err := decodeEntry(newPosReader(bytes.NewReader(entry), 0), 0, false)
	require.NoError(t, err)

	assert.Equal(t, common.TransactionID(7), decoded.ID)
	assert.Equal(t, checksum, decoded.Checksum)
	assert.Empty(t, decoded.Transaction.Commands)
}

func TestEntryPositionTracksOffset(t *testing.T) {
	first, _ := encodeEntry(testTransaction(), 1)
	second, _ := encodeEntry(testTransaction(testCommands()...), 2)

	pr := newPosReader(bytes.NewReader(append(append([]byte{}, first...), second...)), 0)

	d1, err := decodeEntry(pr, 0, true)
	require.NoError(t, err)
	d2, err := decodeEntry(pr, 0, true)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), d1.Position.Offset)
	assert.Equal(t, uint64(len(first)), d2.Position.Offset)
}

func TestEntryCleanBoundaryIsEOF(t *testing.T) {
	_, err := decodeEntry(newPosReader(bytes.NewReader(nil), 0), 0, true)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEntryTruncatedIsUnexpectedEOF(t *testing.T) {
	entry, _ := encodeEntry(testTransaction(testCommands()...), 1)

	for _, cut := range []int{1, 5, len(entry) / 2, len(entry) - 1} {
		_, err := decodeEntry(newPosReader(bytes.NewReader(entry[:cut]), 0), 0, true)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", cut)
	}
}

func TestEntryChecksumMismatch(t *testing.T) {
	entry, _ := encodeEntry(testTransaction(testCommands()...), 1)

	// Flip a payload byte without touching the structural markers.
	corrupted := append([]byte{}, entry...)
	corrupted[4] ^= 0xff

	_, err := decodeEntry(newPosReader(bytes.NewReader(corrupted), 0), 0, true)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
