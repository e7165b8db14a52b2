package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"

	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
)

// A transaction occupies one contiguous entry in the log:
//
//	[START  marker, header: additional bytes, master id, author id,
//	               start time, last-committed-id-when-started]
//	[COMMAND marker, payload length, command wire form]*
//	[COMMIT marker, transaction id, commit time, checksum]
//
// The checksum is crc64(ECMA) over every entry byte that precedes it.
// Entries are encoded into memory in full before any byte reaches the log,
// so a crash can only ever truncate the tail of the last entry.
const (
	markerStart   byte = 1
	markerCommand byte = 2
	markerCommit  byte = 3
)

var crcTable = crc64.MakeTable(crc64.ECMA)

var (
	// ErrChecksumMismatch reports a log entry whose stored checksum does not
	// cover its bytes. Whether that is fatal depends on the entry position:
	// a mismatching tail is an unclean-shutdown artifact, anything before
	// the tail is corruption.
	ErrChecksumMismatch = errors.New("log entry checksum mismatch")
)

// TransactionRepresentation is an ordered command list plus its header.
// It is immutable once handed to the appender.
type TransactionRepresentation struct {
	Commands []commands.Command

	AdditionalHeader           []byte
	MasterID                   int32
	AuthorID                   int32
	TimeStarted                int64
	LatestCommittedWhenStarted common.TransactionID
	TimeCommitted              int64
}

// CommittedTransaction is a TransactionRepresentation that has been assigned
// an id and a durable log position, either by the appender on write or by the
// recoverer on read-back.
type CommittedTransaction struct {
	Transaction TransactionRepresentation
	ID          common.TransactionID
	Position    common.LogPosition
	Checksum    common.Checksum
}

func encodeEntry(tx *TransactionRepresentation, id common.TransactionID) ([]byte, common.Checksum) {
	buf := new(bytes.Buffer)

	buf.WriteByte(markerStart)
	_ = binary.Write(buf, binary.BigEndian, uint16(len(tx.AdditionalHeader)))
	buf.Write(tx.AdditionalHeader)
	_ = binary.Write(buf, binary.BigEndian, tx.MasterID)
	_ = binary.Write(buf, binary.BigEndian, tx.AuthorID)
	_ = binary.Write(buf, binary.BigEndian, tx.TimeStarted)
	_ = binary.Write(buf, binary.BigEndian, uint64(tx.LatestCommittedWhenStarted))

	cmdBuf := new(bytes.Buffer)
	for _, cmd := range tx.Commands {
		cmdBuf.Reset()
		commands.Encode(cmd, cmdBuf)

		buf.WriteByte(markerCommand)
		_ = binary.Write(buf, binary.BigEndian, uint32(cmdBuf.Len()))
		buf.Write(cmdBuf.Bytes())
	}

	buf.WriteByte(markerCommit)
	_ = binary.Write(buf, binary.BigEndian, uint64(id))
	_ = binary.Write(buf, binary.BigEndian, tx.TimeCommitted)

	checksum := common.Checksum(crc64.Checksum(buf.Bytes(), crcTable))
	_ = binary.Write(buf, binary.BigEndian, uint64(checksum))

	return buf.Bytes(), checksum
}

// posReader counts consumed bytes so decoded entries can report their
// position inside the segment.
type posReader struct {
	r      io.Reader
	offset uint64
}

func newPosReader(r io.Reader, base uint64) *posReader {
	return &posReader{r: r, offset: base}
}

func (p *posReader) Read(data []byte) (int, error) {
	n, err := p.r.Read(data)
	p.offset += uint64(n)

	return n, err
}

// hasMore reports whether at least one more byte can be read. It consumes
// that byte, so it is only called after a decode already failed.
func (p *posReader) hasMore() bool {
	var one [1]byte
	n, _ := io.ReadFull(p, one[:])

	return n == 1
}

// decodeEntry reads one full entry. When full is false the command bodies
// are skipped instead of materialized; everything is checksummed either way.
// io.EOF is returned untouched when the reader is positioned exactly at a
// clean entry boundary; any failure later inside the entry surfaces as
// io.ErrUnexpectedEOF or a decode error.
func decodeEntry(r *posReader, version common.LogVersion, full bool) (*CommittedTransaction, error) {
	start := r.offset

	var marker [1]byte
	if _, err := r.Read(marker[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, err
	}
	if marker[0] != markerStart {
		return nil, fmt.Errorf("expected entry start marker, got %d at %d.%d", marker[0], version, start)
	}

	crc := crc64.New(crcTable)
	_, _ = crc.Write(marker[:1])
	tee := io.TeeReader(r, crc)

	tx := &CommittedTransaction{
		Position: common.LogPosition{Version: version, Offset: start},
	}

	var headerLen uint16
	if err := binary.Read(tee, binary.BigEndian, &headerLen); err != nil {
		return nil, unexpectedEOF(err)
	}

	tx.Transaction.AdditionalHeader = make([]byte, headerLen)
	if _, err := io.ReadFull(tee, tx.Transaction.AdditionalHeader); err != nil {
		return nil, unexpectedEOF(err)
	}

	if err := binary.Read(tee, binary.BigEndian, &tx.Transaction.MasterID); err != nil {
		return nil, unexpectedEOF(err)
	}
	if err := binary.Read(tee, binary.BigEndian, &tx.Transaction.AuthorID); err != nil {
		return nil, unexpectedEOF(err)
	}
	if err := binary.Read(tee, binary.BigEndian, &tx.Transaction.TimeStarted); err != nil {
		return nil, unexpectedEOF(err)
	}
	if err := binary.Read(tee, binary.BigEndian, (*uint64)(&tx.Transaction.LatestCommittedWhenStarted)); err != nil {
		return nil, unexpectedEOF(err)
	}

	for {
		if _, err := io.ReadFull(tee, marker[:]); err != nil {
			return nil, unexpectedEOF(err)
		}

		if marker[0] == markerCommit {
			break
		}
		if marker[0] != markerCommand {
			return nil, fmt.Errorf("expected command or commit marker, got %d at %d.%d", marker[0], version, r.offset)
		}

		var cmdLen uint32
		if err := binary.Read(tee, binary.BigEndian, &cmdLen); err != nil {
			return nil, unexpectedEOF(err)
		}

		if full {
			payload := make([]byte, cmdLen)
			if _, err := io.ReadFull(tee, payload); err != nil {
				return nil, unexpectedEOF(err)
			}

			cmd, err := commands.Decode(bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("decoding command at %d.%d: %w", version, r.offset, err)
			}

			tx.Transaction.Commands = append(tx.Transaction.Commands, cmd)
		} else {
			if _, err := io.CopyN(io.Discard, tee, int64(cmdLen)); err != nil {
				return nil, unexpectedEOF(err)
			}
		}
	}

	if err := binary.Read(tee, binary.BigEndian, (*uint64)(&tx.ID)); err != nil {
		return nil, unexpectedEOF(err)
	}
	if err := binary.Read(tee, binary.BigEndian, &tx.Transaction.TimeCommitted); err != nil {
		return nil, unexpectedEOF(err)
	}

	computed := common.Checksum(crc.Sum64())

	var stored uint64
	if err := binary.Read(r, binary.BigEndian, &stored); err != nil {
		return nil, unexpectedEOF(err)
	}

	if common.Checksum(stored) != computed {
		return nil, ErrChecksumMismatch
	}

	tx.Checksum = computed

	return tx, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}
