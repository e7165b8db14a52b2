package cfg

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/gvanjoic/neo4j/src/storage/wal"
)

type StoreConfig struct {
	Environment Environment `mapstructure:"ENVIRONMENT"`

	StoreDir string `mapstructure:"STORE_DIR"`
	LogName  string `mapstructure:"LOG_NAME"`
	ReadOnly bool   `mapstructure:"READ_ONLY"`

	RotateThresholdBytes int64 `mapstructure:"ROTATE_THRESHOLD_BYTES"`
	MetadataCacheSize    int   `mapstructure:"METADATA_CACHE_SIZE"`

	PruneStrategy   string `mapstructure:"PRUNE_STRATEGY"`
	PruneKeepLogs   int    `mapstructure:"PRUNE_KEEP_LOGS"`
	PruneMaxAgeDays int    `mapstructure:"PRUNE_MAX_AGE_DAYS"`
}

const (
	PruneKeepAll   = "keep_all"
	PruneKeepLastN = "keep_last_n"
	PruneKeepByAge = "keep_by_age"
)

func LoadConfig(path string) (StoreConfig, error) {
	viper.AddConfigPath(path)
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.SetEnvPrefix("GRAPHDB")
	viper.AutomaticEnv()

	viper.SetOptions(viper.ExperimentalBindStruct())

	viper.SetDefault("ENVIRONMENT", DefaultEnv)
	viper.SetDefault("STORE_DIR", "data")
	viper.SetDefault("LOG_NAME", wal.DefaultName)
	viper.SetDefault("READ_ONLY", false)
	viper.SetDefault("ROTATE_THRESHOLD_BYTES", int64(256<<20))
	viper.SetDefault("METADATA_CACHE_SIZE", 100_000)
	viper.SetDefault("PRUNE_STRATEGY", PruneKeepAll)
	viper.SetDefault("PRUNE_KEEP_LOGS", 7)
	viper.SetDefault("PRUNE_MAX_AGE_DAYS", 30)

	err := viper.ReadInConfig()
	if err != nil {
		fmt.Println("config file not found, using env vars")
	}

	var cfg StoreConfig

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return StoreConfig{}, fmt.Errorf("viper unmarshaling config: %w", err)
	}

	err = cfg.Environment.Validate()
	if err != nil {
		return StoreConfig{}, fmt.Errorf("environment validation: %w", err)
	}

	if _, err = cfg.BuildPruneStrategy(); err != nil {
		return StoreConfig{}, fmt.Errorf("prune strategy validation: %w", err)
	}

	return cfg, nil
}

// BuildPruneStrategy maps the configured strategy name onto a wal strategy.
func (c StoreConfig) BuildPruneStrategy() (wal.PruneStrategy, error) {
	switch c.PruneStrategy {
	case PruneKeepAll:
		return wal.NoPruning, nil
	case PruneKeepLastN:
		if c.PruneKeepLogs < 1 {
			return nil, errors.New("PRUNE_KEEP_LOGS must be at least 1")
		}

		return wal.KeepLastN(c.PruneKeepLogs), nil
	case PruneKeepByAge:
		if c.PruneMaxAgeDays < 1 {
			return nil, errors.New("PRUNE_MAX_AGE_DAYS must be at least 1")
		}

		return wal.KeepByAge(time.Duration(c.PruneMaxAgeDays) * 24 * time.Hour), nil
	default:
		return nil, fmt.Errorf("unknown prune strategy %q", c.PruneStrategy)
	}
}

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}
