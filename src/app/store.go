package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/gvanjoic/neo4j/src"
	"github.com/gvanjoic/neo4j/src/cfg"
	"github.com/gvanjoic/neo4j/src/kernel"
	"github.com/gvanjoic/neo4j/src/pkg/utils"
	"github.com/gvanjoic/neo4j/src/storage/wal"
)

const PruneInterval = 5 * time.Minute

// StoreEntrypoint owns the whole database stack: log files, recovery, the
// appender, the kernel and the background pruner. Init brings the store from
// whatever the last shutdown left on disk to a consistent, appendable state.
type StoreEntrypoint struct {
	ConfigPath string

	cfg     cfg.StoreConfig
	log     src.Logger
	fs      afero.Fs
	logFile *wal.LogFile
	pruner  *wal.Pruner
	records *kernel.RecordStore
	kernel  *kernel.Kernel

	checkpointPath string

	done chan struct{}
}

func (e *StoreEntrypoint) Init(_ context.Context) error {
	config, err := cfg.LoadConfig(e.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if e.ConfigPath == "" {
		env := mustLoadEnv()
		config.Environment = cfg.Environment(env.Environment)
		config.StoreDir = env.StoreDir
		config.ReadOnly = env.ReadOnly
	}

	e.cfg = config

	var log src.Logger
	if e.cfg.Environment == cfg.EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}

	e.log = log
	e.done = make(chan struct{})

	return e.openStore(afero.NewOsFs())
}

// openStore restores the latest checkpoint snapshot, replays the log tail on
// top of it, then wires the append path on the recovered state.
func (e *StoreEntrypoint) openStore(fs afero.Fs) error {
	if err := fs.MkdirAll(e.cfg.StoreDir, 0o700); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}

	e.fs = fs
	e.checkpointPath = filepath.Join(e.cfg.StoreDir, e.cfg.LogName+".checkpoint")

	files := wal.NewLogFiles(fs, e.cfg.StoreDir, e.cfg.LogName)

	logFile, err := wal.OpenLogFile(fs, files, e.cfg.RotateThresholdBytes, e.log)
	if err != nil {
		return fmt.Errorf("opening transaction log: %w", err)
	}
	e.logFile = logFile

	records := kernel.NewRecordStore()
	e.records = records

	checkpoint, restored, err := kernel.ReadCheckpoint(fs, e.checkpointPath, records)
	if err != nil {
		return fmt.Errorf("restoring checkpoint: %w", err)
	}
	if restored {
		e.log.Infow("checkpoint restored",
			"lastAppliedTxId", checkpoint.LastApplied,
			"safeLogVersion", checkpoint.SafeVersion,
		)
	}

	cache := wal.NewTransactionMetadataCache(e.cfg.MetadataCacheSize)

	recoverer := wal.NewLogFileRecoverer(func(tx *wal.CommittedTransaction) (bool, error) {
		if tx.ID > checkpoint.LastApplied {
			records.Apply(tx.ID, tx.Transaction.Commands, nil)
		}
		cache.Put(tx.ID, tx.Position, tx.Checksum)

		return true, nil
	}, e.log)

	recovered, lastID, err := recoverer.Recover(logFile)
	if err != nil {
		return fmt.Errorf("recovering transaction log: %w", err)
	}
	if checkpoint.LastApplied > lastID {
		lastID = checkpoint.LastApplied
	}

	e.log.Infow("store recovered",
		"transactions", recovered,
		"lastCommittedTxId", lastID,
	)

	idStore := wal.NewTransactionIDStore(lastID)
	appender := wal.NewTransactionAppender(logFile, idStore, cache, wal.NewFIFOIDOrderingQueue(), e.log)
	store := wal.NewLogicalTransactionStore(logFile, appender, cache, e.log)

	strategy, err := e.cfg.BuildPruneStrategy()
	if err != nil {
		return fmt.Errorf("building prune strategy: %w", err)
	}

	pruner, err := wal.NewPruner(fs, files, strategy, e.log)
	if err != nil {
		return fmt.Errorf("starting pruner: %w", err)
	}
	e.pruner = pruner

	e.kernel = kernel.NewKernel(store, idStore, records, kernel.Options{
		ReadOnly: e.cfg.ReadOnly,
	}, e.log)

	return nil
}

func (e *StoreEntrypoint) Kernel() *kernel.Kernel {
	return e.kernel
}

// Run drives checkpointing and background pruning until shutdown. A segment
// becomes a prune candidate only once a checkpoint covering all of its
// transactions is durable; the strategy decides what actually goes.
func (e *StoreEntrypoint) Run(ctx context.Context) error {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case <-ticker.C:
			// The safe version is captured before the snapshot: every
			// transaction in an older segment is then inside the snapshot.
			safe := e.logFile.CurrentPosition().Version

			checkpoint, err := kernel.WriteCheckpoint(e.fs, e.checkpointPath, e.records, safe)
			if err != nil {
				e.log.Errorw("writing checkpoint", "error", err)
				continue
			}

			e.log.Debugw("checkpoint written",
				"lastAppliedTxId", checkpoint.LastApplied,
				"safeLogVersion", checkpoint.SafeVersion,
			)

			e.pruner.PruneAsync(checkpoint.SafeVersion)
		}
	}
}

func (e *StoreEntrypoint) Close() (err error) {
	if e.done != nil {
		close(e.done)
	}

	if e.pruner != nil {
		e.pruner.Close()
	}

	if e.logFile != nil {
		err = e.logFile.Close()
	}

	if e.log != nil {
		if err != nil {
			e.log.Error("failed to close store", zap.Error(err))
		}

		logErr := e.log.Sync()
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
