package commands

import (
	"bytes"
	"encoding/binary"
)

// NodeRecord is the physical shape of a node as the command stream sees it.
// A command carries the record before and after the change; creation and
// deletion are expressed through the InUse flag.
type NodeRecord struct {
	ID       uint64
	InUse    bool
	NextRel  uint64
	NextProp uint64
}

// RelationshipRecord is the physical shape of a relationship.
type RelationshipRecord struct {
	ID        uint64
	InUse     bool
	Type      uint32
	StartNode uint64
	EndNode   uint64
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(rd *bytes.Reader) (bool, error) {
	b, err := rd.ReadByte()
	if err != nil {
		return false, err
	}

	return b != 0, nil
}

func (r NodeRecord) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, r.ID)
	writeBool(buf, r.InUse)
	_ = binary.Write(buf, binary.BigEndian, r.NextRel)
	_ = binary.Write(buf, binary.BigEndian, r.NextProp)

	return buf.Bytes(), nil
}

func (r *NodeRecord) UnmarshalBinary(data []byte) error {
	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, &r.ID); err != nil {
		return err
	}

	inUse, err := readBool(rd)
	if err != nil {
		return err
	}
	r.InUse = inUse

	if err := binary.Read(rd, binary.BigEndian, &r.NextRel); err != nil {
		return err
	}

	return binary.Read(rd, binary.BigEndian, &r.NextProp)
}

func (r RelationshipRecord) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, r.ID)
	writeBool(buf, r.InUse)
	_ = binary.Write(buf, binary.BigEndian, r.Type)
	_ = binary.Write(buf, binary.BigEndian, r.StartNode)
	_ = binary.Write(buf, binary.BigEndian, r.EndNode)

	return buf.Bytes(), nil
}

func (r *RelationshipRecord) UnmarshalBinary(data []byte) error {
	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, &r.ID); err != nil {
		return err
	}

	inUse, err := readBool(rd)
	if err != nil {
		return err
	}
	r.InUse = inUse

	if err := binary.Read(rd, binary.BigEndian, &r.Type); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &r.StartNode); err != nil {
		return err
	}

	return binary.Read(rd, binary.BigEndian, &r.EndNode)
}
