package wal

import (
	"fmt"
	"time"

	"github.com/panjf2000/ants"
	"github.com/spf13/afero"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/pkg/common"
)

// PruneStrategy decides which retained segment versions may be discarded.
// Candidates never include the current segment; the pruner additionally
// refuses anything at or above the applied-transaction horizon it is given.
type PruneStrategy interface {
	// VersionsToPrune picks victims from candidates (ascending, current
	// segment excluded). modTime resolves a segment's last modification.
	VersionsToPrune(candidates []common.LogVersion, now time.Time, modTime func(common.LogVersion) time.Time) []common.LogVersion
}

type noPruning struct{}

func (noPruning) VersionsToPrune([]common.LogVersion, time.Time, func(common.LogVersion) time.Time) []common.LogVersion {
	return nil
}

// NoPruning keeps every segment forever.
var NoPruning PruneStrategy = noPruning{}

type keepLastN struct{ n int }

// KeepLastN retains the newest n historical segments besides the current one.
func KeepLastN(n int) PruneStrategy { return keepLastN{n: n} }

func (s keepLastN) VersionsToPrune(candidates []common.LogVersion, _ time.Time, _ func(common.LogVersion) time.Time) []common.LogVersion {
	if len(candidates) <= s.n {
		return nil
	}

	return candidates[:len(candidates)-s.n]
}

type keepByAge struct{ maxAge time.Duration }

// KeepByAge retains segments modified within maxAge.
func KeepByAge(maxAge time.Duration) PruneStrategy { return keepByAge{maxAge: maxAge} }

func (s keepByAge) VersionsToPrune(candidates []common.LogVersion, now time.Time, modTime func(common.LogVersion) time.Time) []common.LogVersion {
	var victims []common.LogVersion
	for _, v := range candidates {
		if now.Sub(modTime(v)) > s.maxAge {
			victims = append(victims, v)
		}
	}

	return victims
}

// Pruner discards historical segments per the configured strategy. Pruning
// runs off the commit path on a worker pool.
type Pruner struct {
	fs       afero.Fs
	files    *LogFiles
	strategy PruneStrategy
	pool     *ants.Pool
	log      src.Logger

	now func() time.Time
}

func NewPruner(fs afero.Fs, files *LogFiles, strategy PruneStrategy, log src.Logger) (*Pruner, error) {
	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, fmt.Errorf("creating prune worker pool: %w", err)
	}

	return &Pruner{
		fs:       fs,
		files:    files,
		strategy: strategy,
		pool:     pool,
		log:      log,
		now:      time.Now,
	}, nil
}

// Prune removes prunable segments strictly below safeVersion. safeVersion is
// the lowest version still needed for recovery: the segment holding the
// oldest transaction not yet known to be durably applied to the store, or the
// current segment when everything has been applied.
func (p *Pruner) Prune(safeVersion common.LogVersion) error {
	versions, err := p.files.Versions()
	if err != nil {
		return err
	}

	var candidates []common.LogVersion
	for _, v := range versions {
		if v < safeVersion {
			candidates = append(candidates, v)
		}
	}

	modTime := func(v common.LogVersion) time.Time {
		info, err := p.fs.Stat(p.files.FileFor(v))
		if err != nil {
			return p.now() // unknowable age keeps the segment
		}

		return info.ModTime()
	}

	for _, victim := range p.strategy.VersionsToPrune(candidates, p.now(), modTime) {
		path := p.files.FileFor(victim)
		if err := p.fs.Remove(path); err != nil {
			return fmt.Errorf("pruning log segment %s: %w", path, err)
		}

		p.log.Infow("transaction log segment pruned", "version", victim)
	}

	return nil
}

// PruneAsync schedules a prune run on the worker pool. Failures are logged;
// a missed prune only delays reclamation.
func (p *Pruner) PruneAsync(safeVersion common.LogVersion) {
	err := p.pool.Submit(func() {
		if err := p.Prune(safeVersion); err != nil {
			p.log.Errorw("background log pruning failed", "error", err)
		}
	})
	if err != nil {
		p.log.Errorw("submitting log pruning job", "error", err)
	}
}

func (p *Pruner) Close() {
	p.pool.Release()
}
