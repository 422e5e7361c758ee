// Package config defines the veldt configuration schema and validation.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	veldterrors "github.com/veldt-db/veldt/internal/errors"
	"github.com/veldt-db/veldt/internal/logging"
	"github.com/veldt-db/veldt/internal/store"
	"github.com/veldt-db/veldt/internal/vector"
)

// IndexOptions are the per-index creation parameters. Dimension and distance
// are invariants for the life of the index.
type IndexOptions struct {
	// Dimension of every vector, in [1, 65536].
	Dimension int `yaml:"dimension"`
	// M is the maximum neighbors per node per level, in [2, 128].
	M int `yaml:"m"`
	// EfConstruction is the insertion candidate set size, in [m, 1024].
	EfConstruction int `yaml:"ef_construction"`
	// MaxLevel caps sampled node levels, in [1, 32].
	MaxLevel int `yaml:"max_level"`
	// Distance is one of l1, l2, cosine, inner_product.
	Distance string `yaml:"distance"`
	// BlockCapBytes is the soft rollover threshold of a vector block.
	BlockCapBytes int `yaml:"block_cap_bytes"`
	// FileCapBytes is the soft rollover threshold of a vector file.
	FileCapBytes int `yaml:"file_cap_bytes"`
}

// DefaultIndexOptions returns index defaults for the given dimension.
func DefaultIndexOptions(dimension int) IndexOptions {
	return IndexOptions{
		Dimension:      dimension,
		M:              16,
		EfConstruction: 200,
		MaxLevel:       16,
		Distance:       "l2",
		BlockCapBytes:  1 << 20,
		FileCapBytes:   32 << 20,
	}
}

// Measure parses the configured distance.
func (o *IndexOptions) Measure() (vector.Kind, error) {
	return vector.ParseKind(o.Distance)
}

// Validate checks all option ranges.
func (o *IndexOptions) Validate() error {
	if o.Dimension < 1 || o.Dimension > 65536 {
		return veldterrors.ConfigError("dimension %d outside [1, 65536]", o.Dimension)
	}
	if o.M < 2 || o.M > 128 {
		return veldterrors.ConfigError("m %d outside [2, 128]", o.M)
	}
	if o.EfConstruction < o.M || o.EfConstruction > 1024 {
		return veldterrors.ConfigError("ef_construction %d outside [m=%d, 1024]", o.EfConstruction, o.M)
	}
	if o.MaxLevel < 1 || o.MaxLevel > 32 {
		return veldterrors.ConfigError("max_level %d outside [1, 32]", o.MaxLevel)
	}
	if _, err := o.Measure(); err != nil {
		return err
	}
	if o.BlockCapBytes <= 0 {
		return veldterrors.ConfigError("block_cap_bytes %d must be positive", o.BlockCapBytes)
	}
	if o.FileCapBytes <= 0 {
		return veldterrors.ConfigError("file_cap_bytes %d must be positive", o.FileCapBytes)
	}
	return nil
}

// Config is the complete engine configuration.
type Config struct {
	Version int                `yaml:"version"`
	Index   IndexOptions       `yaml:"index"`
	Cache   store.CacheOptions `yaml:"cache"`
	Logging logging.Config     `yaml:"logging"`
}

// Default returns the default configuration for the given dimension.
func Default(dimension int) Config {
	return Config{
		Version: 1,
		Index:   DefaultIndexOptions(dimension),
		Cache:   store.DefaultCacheOptions(),
		Logging: logging.DefaultConfig(),
	}
}

// Load reads a YAML config file. Absent fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, veldterrors.Wrap(veldterrors.ErrCodeConfigInvalid, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, veldterrors.Wrap(veldterrors.ErrCodeConfigInvalid, err)
	}
	if err := cfg.Index.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
