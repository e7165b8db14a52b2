package kernel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/gvanjoic/neo4j/src/pkg/common"
	"github.com/gvanjoic/neo4j/src/storage/commands"
)

const checkpointFormat byte = 1

// Checkpoint is the durable applied watermark backing log pruning: the
// snapshot on disk captures every transaction up to LastApplied, and every
// log segment strictly below SafeVersion holds only such transactions. Those
// segments are therefore no longer needed for recovery.
type Checkpoint struct {
	LastApplied common.TransactionID
	SafeVersion common.LogVersion
}

// WriteCheckpoint snapshots records to path. The caller must capture
// safeVersion (the current log version) before calling: every transaction in
// an older segment is then guaranteed to be inside the snapshot. The file is
// replaced atomically, so a crash mid-write leaves the previous checkpoint
// intact.
func WriteCheckpoint(fs afero.Fs, path string, records *RecordStore, safeVersion common.LogVersion) (Checkpoint, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(checkpointFormat)
	_ = binary.Write(buf, binary.BigEndian, uint64(safeVersion))

	lastApplied := records.snapshot(buf)

	tmp := path + ".tmp"

	file, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("creating checkpoint %s: %w", tmp, err)
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		_ = file.Close()
		return Checkpoint{}, fmt.Errorf("writing checkpoint %s: %w", tmp, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return Checkpoint{}, fmt.Errorf("syncing checkpoint %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		return Checkpoint{}, fmt.Errorf("closing checkpoint %s: %w", tmp, err)
	}

	if err := fs.Rename(tmp, path); err != nil {
		return Checkpoint{}, fmt.Errorf("publishing checkpoint %s: %w", path, err)
	}

	return Checkpoint{LastApplied: lastApplied, SafeVersion: safeVersion}, nil
}

// ReadCheckpoint restores a snapshot from path into records, reporting
// whether one existed. Recovery then only needs to re-apply transactions with
// ids above the returned LastApplied.
func ReadCheckpoint(fs afero.Fs, path string, records *RecordStore) (Checkpoint, bool, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}

		return Checkpoint{}, false, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}

	rd := bytes.NewReader(data)

	format, err := rd.ReadByte()
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if format != checkpointFormat {
		return Checkpoint{}, false, fmt.Errorf("checkpoint %s: unknown format %d", path, format)
	}

	var safeVersion uint64
	if err := binary.Read(rd, binary.BigEndian, &safeVersion); err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	lastApplied, err := records.restore(rd)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	return Checkpoint{
		LastApplied: lastApplied,
		SafeVersion: common.LogVersion(safeVersion),
	}, true, nil
}

func writeBlob(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func readBlob(rd *bytes.Reader) ([]byte, error) {
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

// snapshot serializes the full store state under the read lock and returns
// the last applied transaction id the snapshot is consistent with.
func (s *RecordStore) snapshot(buf *bytes.Buffer) common.TransactionID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_ = binary.Write(buf, binary.BigEndian, uint64(s.lastApplied))

	_ = binary.Write(buf, binary.BigEndian, uint32(len(s.nodes)))
	for _, rec := range s.nodes {
		data, _ := rec.MarshalBinary()
		writeBlob(buf, data)
	}

	_ = binary.Write(buf, binary.BigEndian, uint32(len(s.rels)))
	for _, rec := range s.rels {
		data, _ := rec.MarshalBinary()
		writeBlob(buf, data)
	}

	_ = binary.Write(buf, binary.BigEndian, uint32(len(s.nodeLabels)))
	for id, labels := range s.nodeLabels {
		_ = binary.Write(buf, binary.BigEndian, id)
		_ = binary.Write(buf, binary.BigEndian, uint32(len(labels)))
		for label := range labels {
			_ = binary.Write(buf, binary.BigEndian, label)
		}
	}

	snapshotProps := func(owners map[uint64]map[uint32][]byte) {
		_ = binary.Write(buf, binary.BigEndian, uint32(len(owners)))
		for id, props := range owners {
			_ = binary.Write(buf, binary.BigEndian, id)
			_ = binary.Write(buf, binary.BigEndian, uint32(len(props)))
			for key, value := range props {
				_ = binary.Write(buf, binary.BigEndian, key)
				writeBlob(buf, value)
			}
		}
	}
	snapshotProps(s.nodeProps)
	snapshotProps(s.relProps)

	_ = binary.Write(buf, binary.BigEndian, uint32(len(s.graphProps)))
	for key, value := range s.graphProps {
		_ = binary.Write(buf, binary.BigEndian, key)
		writeBlob(buf, value)
	}

	_ = binary.Write(buf, binary.BigEndian, uint32(len(s.schemaRules)))
	for _, rule := range s.schemaRules {
		writeBlob(buf, encodeSchemaRule(rule))
	}

	return s.lastApplied
}

// restore is the inverse of snapshot. The decoded state replaces the store's
// contents wholesale; nothing is swapped in until the whole snapshot decoded.
func (s *RecordStore) restore(rd *bytes.Reader) (common.TransactionID, error) {
	var lastApplied uint64
	if err := binary.Read(rd, binary.BigEndian, &lastApplied); err != nil {
		return 0, err
	}

	var count uint32

	if err := binary.Read(rd, binary.BigEndian, &count); err != nil {
		return 0, err
	}
	nodes := make(map[uint64]commands.NodeRecord, count)
	for i := uint32(0); i < count; i++ {
		data, err := readBlob(rd)
		if err != nil {
			return 0, err
		}

		var rec commands.NodeRecord
		if err := rec.UnmarshalBinary(data); err != nil {
			return 0, err
		}
		nodes[rec.ID] = rec
	}

	if err := binary.Read(rd, binary.BigEndian, &count); err != nil {
		return 0, err
	}
	rels := make(map[uint64]commands.RelationshipRecord, count)
	for i := uint32(0); i < count; i++ {
		data, err := readBlob(rd)
		if err != nil {
			return 0, err
		}

		var rec commands.RelationshipRecord
		if err := rec.UnmarshalBinary(data); err != nil {
			return 0, err
		}
		rels[rec.ID] = rec
	}

	if err := binary.Read(rd, binary.BigEndian, &count); err != nil {
		return 0, err
	}
	nodeLabels := make(map[uint64]map[uint32]struct{}, count)
	for i := uint32(0); i < count; i++ {
		var id uint64
		if err := binary.Read(rd, binary.BigEndian, &id); err != nil {
			return 0, err
		}

		var n uint32
		if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
			return 0, err
		}

		labels := make(map[uint32]struct{}, n)
		for j := uint32(0); j < n; j++ {
			var label uint32
			if err := binary.Read(rd, binary.BigEndian, &label); err != nil {
				return 0, err
			}
			labels[label] = struct{}{}
		}
		nodeLabels[id] = labels
	}

	restoreProps := func() (map[uint64]map[uint32][]byte, error) {
		var owners uint32
		if err := binary.Read(rd, binary.BigEndian, &owners); err != nil {
			return nil, err
		}

		m := make(map[uint64]map[uint32][]byte, owners)
		for j := uint32(0); j < owners; j++ {
			var id uint64
			if err := binary.Read(rd, binary.BigEndian, &id); err != nil {
				return nil, err
			}

			var n uint32
			if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
				return nil, err
			}

			props := make(map[uint32][]byte, n)
			for k := uint32(0); k < n; k++ {
				var key uint32
				if err := binary.Read(rd, binary.BigEndian, &key); err != nil {
					return nil, err
				}

				value, err := readBlob(rd)
				if err != nil {
					return nil, err
				}
				props[key] = value
			}
			m[id] = props
		}

		return m, nil
	}

	nodeProps, err := restoreProps()
	if err != nil {
		return 0, err
	}
	relProps, err := restoreProps()
	if err != nil {
		return 0, err
	}

	if err := binary.Read(rd, binary.BigEndian, &count); err != nil {
		return 0, err
	}
	graphProps := make(map[uint32][]byte, count)
	for i := uint32(0); i < count; i++ {
		var key uint32
		if err := binary.Read(rd, binary.BigEndian, &key); err != nil {
			return 0, err
		}

		value, err := readBlob(rd)
		if err != nil {
			return 0, err
		}
		graphProps[key] = value
	}

	if err := binary.Read(rd, binary.BigEndian, &count); err != nil {
		return 0, err
	}
	schemaRules := make(map[uint64]SchemaRule, count)
	for i := uint32(0); i < count; i++ {
		data, err := readBlob(rd)
		if err != nil {
			return 0, err
		}

		rule, err := DecodeSchemaRule(data)
		if err != nil {
			return 0, err
		}
		schemaRules[rule.ID] = rule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = nodes
	s.rels = rels
	s.nodeLabels = nodeLabels
	s.nodeProps = nodeProps
	s.relProps = relProps
	s.graphProps = graphProps
	s.schemaRules = schemaRules
	s.lastApplied = common.TransactionID(lastApplied)
	s.version.Add(1)

	return s.lastApplied, nil
}
