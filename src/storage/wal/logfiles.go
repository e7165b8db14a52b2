package wal

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// DefaultName is the base name of transaction log segments.
const DefaultName = "graph.transaction.log"

// LogFiles resolves physical segment files by version. Segment names are
// "<name>.v<version>"; the current segment is the one with the highest
// version.
type LogFiles struct {
	fs   afero.Fs
	dir  string
	name string
}

func NewLogFiles(fs afero.Fs, dir, name string) *LogFiles {
	return &LogFiles{fs: fs, dir: dir, name: name}
}

func (f *LogFiles) FileFor(version common.LogVersion) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s.v%d", f.name, version))
}

// Versions lists the retained segment versions in ascending order.
// An empty result means the store has no log yet.
func (f *LogFiles) Versions() ([]common.LogVersion, error) {
	entries, err := afero.ReadDir(f.fs, f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing log directory %s: %w", f.dir, err)
	}

	prefix := f.name + ".v"

	var versions []common.LogVersion
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		v, err := strconv.ParseUint(strings.TrimPrefix(entry.Name(), prefix), 10, 64)
		if err != nil {
			continue
		}

		versions = append(versions, common.LogVersion(v))
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	return versions, nil
}

// HighestVersion resolves the current segment. ok is false for a new store.
func (f *LogFiles) HighestVersion() (version common.LogVersion, ok bool, err error) {
	versions, err := f.Versions()
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}

	return versions[len(versions)-1], true, nil
}

// LowestVersion resolves the earliest retained segment.
func (f *LogFiles) LowestVersion() (version common.LogVersion, ok bool, err error) {
	versions, err := f.Versions()
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}

	return versions[0], true, nil
}
