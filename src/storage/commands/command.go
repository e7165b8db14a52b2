package commands

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Command is one physical change produced by a committing transaction.
// The variant set is closed: every implementation lives in this package and
// appliers dispatch over the concrete types exhaustively. Command order is
// significant and is preserved through serialization and replay.
type Command interface {
	// sealed marks the closed set; it intentionally has no exported
	// implementation outside this package.
	sealed()

	encode(buf *bytes.Buffer)
}

type Kind uint8

const (
	KindNode Kind = iota + 1
	KindRelationship
	KindProperty
	KindLabel
	KindSchemaRule
)

// OwnerKind says which entity a property command targets.
type OwnerKind uint8

const (
	OwnerNode OwnerKind = iota + 1
	OwnerRelationship
	OwnerGraph
)

// PropertyChange distinguishes add/change/remove on one property key.
type PropertyChange uint8

const (
	PropertyAdded PropertyChange = iota + 1
	PropertyChanged
	PropertyRemoved
)

// NodeCommand carries the node record before and after the change.
// Creation is Before.InUse==false && After.InUse==true, deletion the inverse.
type NodeCommand struct {
	Before NodeRecord
	After  NodeRecord
}

// RelationshipCommand carries the relationship record before and after.
type RelationshipCommand struct {
	Before RelationshipRecord
	After  RelationshipRecord
}

// PropertyCommand is a single property delta on a node, relationship or the
// graph itself. Before/After hold the opaque encoded values; an empty Before
// means the key did not exist, an empty After means it no longer does.
type PropertyCommand struct {
	Owner   OwnerKind
	OwnerID uint64 // unused for OwnerGraph
	Key     uint32
	Change  PropertyChange
	Before  []byte
	After   []byte
}

// LabelCommand adds or removes one label on one node.
type LabelCommand struct {
	NodeID uint64
	Label  uint32
	Added  bool
}

// SchemaRuleCommand creates or drops a schema rule (index or constraint).
// Rule holds the opaque serialized rule.
type SchemaRuleCommand struct {
	RuleID  uint64
	Created bool
	Rule    []byte
}

func (NodeCommand) sealed()         {}
func (RelationshipCommand) sealed() {}
func (PropertyCommand) sealed()     {}
func (LabelCommand) sealed()        {}
func (SchemaRuleCommand) sealed()   {}

func writeBytes(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func readBytes(rd io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return nil, err
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(rd, data); err != nil {
		return nil, err
	}

	return data, nil
}

func (c NodeCommand) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(KindNode))

	before, _ := c.Before.MarshalBinary()
	after, _ := c.After.MarshalBinary()
	writeBytes(buf, before)
	writeBytes(buf, after)
}

func (c RelationshipCommand) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(KindRelationship))

	before, _ := c.Before.MarshalBinary()
	after, _ := c.After.MarshalBinary()
	writeBytes(buf, before)
	writeBytes(buf, after)
}

func (c PropertyCommand) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(KindProperty))
	buf.WriteByte(byte(c.Owner))
	_ = binary.Write(buf, binary.BigEndian, c.OwnerID)
	_ = binary.Write(buf, binary.BigEndian, c.Key)
	buf.WriteByte(byte(c.Change))
	writeBytes(buf, c.Before)
	writeBytes(buf, c.After)
}

func (c LabelCommand) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(KindLabel))
	_ = binary.Write(buf, binary.BigEndian, c.NodeID)
	_ = binary.Write(buf, binary.BigEndian, c.Label)
	writeBool(buf, c.Added)
}

func (c SchemaRuleCommand) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(KindSchemaRule))
	_ = binary.Write(buf, binary.BigEndian, c.RuleID)
	writeBool(buf, c.Created)
	writeBytes(buf, c.Rule)
}

// Encode appends the wire form of the command to buf.
func Encode(c Command, buf *bytes.Buffer) {
	c.encode(buf)
}

// Decode reads one command from r. It is the exact inverse of Encode.
func Decode(r io.Reader) (Command, error) {
	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return nil, err
	}

	switch Kind(kindByte[0]) {
	case KindNode:
		before, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		after, err := readBytes(r)
		if err != nil {
			return nil, err
		}

		var c NodeCommand
		if err := c.Before.UnmarshalBinary(before); err != nil {
			return nil, err
		}
		if err := c.After.UnmarshalBinary(after); err != nil {
			return nil, err
		}

		return c, nil

	case KindRelationship:
		before, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		after, err := readBytes(r)
		if err != nil {
			return nil, err
		}

		var c RelationshipCommand
		if err := c.Before.UnmarshalBinary(before); err != nil {
			return nil, err
		}
		if err := c.After.UnmarshalBinary(after); err != nil {
			return nil, err
		}

		return c, nil

	case KindProperty:
		var c PropertyCommand

		var owner [1]byte
		if _, err := io.ReadFull(r, owner[:]); err != nil {
			return nil, err
		}
		c.Owner = OwnerKind(owner[0])

		if err := binary.Read(r, binary.BigEndian, &c.OwnerID); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &c.Key); err != nil {
			return nil, err
		}

		var change [1]byte
		if _, err := io.ReadFull(r, change[:]); err != nil {
			return nil, err
		}
		c.Change = PropertyChange(change[0])

		var err error
		if c.Before, err = readBytes(r); err != nil {
			return nil, err
		}
		if c.After, err = readBytes(r); err != nil {
			return nil, err
		}

		return c, nil

	case KindLabel:
		var c LabelCommand
		if err := binary.Read(r, binary.BigEndian, &c.NodeID); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &c.Label); err != nil {
			return nil, err
		}

		var added [1]byte
		if _, err := io.ReadFull(r, added[:]); err != nil {
			return nil, err
		}
		c.Added = added[0] != 0

		return c, nil

	case KindSchemaRule:
		var c SchemaRuleCommand
		if err := binary.Read(r, binary.BigEndian, &c.RuleID); err != nil {
			return nil, err
		}

		var created [1]byte
		if _, err := io.ReadFull(r, created[:]); err != nil {
			return nil, err
		}
		c.Created = created[0] != 0

		var err error
		if c.Rule, err = readBytes(r); err != nil {
			return nil, err
		}

		return c, nil
	}

	return nil, fmt.Errorf("unknown command kind %d", kindByte[0])
}
