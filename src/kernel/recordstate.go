package kernel

import (
	"bytes"
	"encoding/binary"

	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
)

// TransactionRecordState buffers the physical change-commands of one
// transaction in the order the changes were recorded. It is the re-check for
// the read-only fast path: a transaction whose state diff nets out to zero
// produces no commands, and a transaction with no commands skips the log
// entirely.
type TransactionRecordState struct {
	commands                 []commands.Command
	lastCommittedWhenStarted common.TransactionID
}

func NewTransactionRecordState() *TransactionRecordState {
	return &TransactionRecordState{}
}

// Initialize returns the buffer to logical-fresh state for transaction reuse.
func (s *TransactionRecordState) Initialize(lastCommitted common.TransactionID) {
	s.commands = s.commands[:0]
	s.lastCommittedWhenStarted = lastCommitted
}

func (s *TransactionRecordState) IsReadOnly() bool {
	return len(s.commands) == 0
}

// ExtractCommands appends the buffered commands, in recording order, to dst.
func (s *TransactionRecordState) ExtractCommands(dst *[]commands.Command) {
	*dst = append(*dst, s.commands...)
}

func (s *TransactionRecordState) NodeCreate(id uint64) {
	s.commands = append(s.commands, commands.NodeCommand{
		Before: commands.NodeRecord{ID: id},
		After:  commands.NodeRecord{ID: id, InUse: true},
	})
}

func (s *TransactionRecordState) NodeDelete(id uint64) {
	s.commands = append(s.commands, commands.NodeCommand{
		Before: commands.NodeRecord{ID: id, InUse: true},
		After:  commands.NodeRecord{ID: id},
	})
}

func (s *TransactionRecordState) RelationshipCreate(id uint64, relType uint32, startNode, endNode uint64) {
	s.commands = append(s.commands, commands.RelationshipCommand{
		Before: commands.RelationshipRecord{ID: id},
		After: commands.RelationshipRecord{
			ID:        id,
			InUse:     true,
			Type:      relType,
			StartNode: startNode,
			EndNode:   endNode,
		},
	})
}

func (s *TransactionRecordState) RelationshipDelete(id uint64) {
	s.commands = append(s.commands, commands.RelationshipCommand{
		Before: commands.RelationshipRecord{ID: id, InUse: true},
		After:  commands.RelationshipRecord{ID: id},
	})
}

func (s *TransactionRecordState) property(
	owner commands.OwnerKind,
	ownerID uint64,
	key uint32,
	change commands.PropertyChange,
	before, after []byte,
) {
	s.commands = append(s.commands, commands.PropertyCommand{
		Owner:   owner,
		OwnerID: ownerID,
		Key:     key,
		Change:  change,
		Before:  before,
		After:   after,
	})
}

func (s *TransactionRecordState) NodeAddProperty(id uint64, key uint32, value []byte) {
	s.property(commands.OwnerNode, id, key, commands.PropertyAdded, nil, value)
}

func (s *TransactionRecordState) NodeChangeProperty(id uint64, key uint32, value []byte) {
	s.property(commands.OwnerNode, id, key, commands.PropertyChanged, nil, value)
}

func (s *TransactionRecordState) NodeRemoveProperty(id uint64, key uint32) {
	s.property(commands.OwnerNode, id, key, commands.PropertyRemoved, nil, nil)
}

func (s *TransactionRecordState) RelationshipAddProperty(id uint64, key uint32, value []byte) {
	s.property(commands.OwnerRelationship, id, key, commands.PropertyAdded, nil, value)
}

func (s *TransactionRecordState) RelationshipChangeProperty(id uint64, key uint32, value []byte) {
	s.property(commands.OwnerRelationship, id, key, commands.PropertyChanged, nil, value)
}

func (s *TransactionRecordState) RelationshipRemoveProperty(id uint64, key uint32) {
	s.property(commands.OwnerRelationship, id, key, commands.PropertyRemoved, nil, nil)
}

func (s *TransactionRecordState) GraphAddProperty(key uint32, value []byte) {
	s.property(commands.OwnerGraph, 0, key, commands.PropertyAdded, nil, value)
}

func (s *TransactionRecordState) GraphChangeProperty(key uint32, value []byte) {
	s.property(commands.OwnerGraph, 0, key, commands.PropertyChanged, nil, value)
}

func (s *TransactionRecordState) GraphRemoveProperty(key uint32) {
	s.property(commands.OwnerGraph, 0, key, commands.PropertyRemoved, nil, nil)
}

func (s *TransactionRecordState) AddLabelToNode(label uint32, nodeID uint64) {
	s.commands = append(s.commands, commands.LabelCommand{NodeID: nodeID, Label: label, Added: true})
}

func (s *TransactionRecordState) RemoveLabelFromNode(label uint32, nodeID uint64) {
	s.commands = append(s.commands, commands.LabelCommand{NodeID: nodeID, Label: label, Added: false})
}

func encodeSchemaRule(rule SchemaRule) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, rule.ID)
	_ = binary.Write(buf, binary.BigEndian, rule.Label)
	_ = binary.Write(buf, binary.BigEndian, rule.PropertyKey)
	if rule.Constraint {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

// DecodeSchemaRule is the inverse of the rule payload written into
// SchemaRuleCommand.Rule.
func DecodeSchemaRule(data []byte) (SchemaRule, error) {
	var rule SchemaRule

	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, &rule.ID); err != nil {
		return SchemaRule{}, err
	}
	if err := binary.Read(rd, binary.BigEndian, &rule.Label); err != nil {
		return SchemaRule{}, err
	}
	if err := binary.Read(rd, binary.BigEndian, &rule.PropertyKey); err != nil {
		return SchemaRule{}, err
	}

	b, err := rd.ReadByte()
	if err != nil {
		return SchemaRule{}, err
	}
	rule.Constraint = b != 0

	return rule, nil
}

func (s *TransactionRecordState) CreateSchemaRule(rule SchemaRule) {
	s.commands = append(s.commands, commands.SchemaRuleCommand{
		RuleID:  rule.ID,
		Created: true,
		Rule:    encodeSchemaRule(rule),
	})
}

func (s *TransactionRecordState) DropSchemaRule(rule SchemaRule) {
	s.commands = append(s.commands, commands.SchemaRuleCommand{
		RuleID:  rule.ID,
		Created: false,
		Rule:    encodeSchemaRule(rule),
	})
}
