package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TransactionID is a monotonically increasing counter assigned at append
// time. It is guaranteed to be unique and gap-free between successfully
// appended transactions on one store.
type TransactionID uint64

// BaseTransactionID is the id of the empty store: no transaction has been
// committed yet.
const BaseTransactionID TransactionID = 0

// LogVersion numbers a physical log segment. The current segment is the one
// with the highest version.
type LogVersion uint64

// Checksum covers a whole log entry, header through commit time.
type Checksum uint64

// LogPosition addresses a byte inside the transaction log. It is the only
// durable addressing scheme and must be stable across restarts.
type LogPosition struct {
	Version LogVersion
	Offset  uint64
}

func (p LogPosition) String() string {
	return fmt.Sprintf("LogPosition{version=%d, offset=%d}", p.Version, p.Offset)
}

func (p LogPosition) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint64(p.Version))
	_ = binary.Write(buf, binary.BigEndian, p.Offset)

	return buf.Bytes(), nil
}

func (p *LogPosition) UnmarshalBinary(data []byte) error {
	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, (*uint64)(&p.Version)); err != nil {
		return err
	}

	return binary.Read(rd, binary.BigEndian, &p.Offset)
}
