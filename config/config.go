// Package config loads lfsctl settings from an optional YAML file and
// LFS_-prefixed environment variables, on top of built-in defaults.
//
// Keys are dotted paths ("geometry.block_size"); the matching environment
// variable replaces dots with underscores (LFS_GEOMETRY_BLOCK_SIZE).
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/mit-pdos/go-lfs/geom"
)

const EnvPrefix = "LFS"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Disk is the image file the filesystem lives in.
	Disk string `mapstructure:"disk" validate:"required"`

	// InodeMap, when set, persists the inode map in a bbolt database.
	InodeMap string `mapstructure:"inode_map"`

	CacheBlocks int `mapstructure:"cache_blocks" validate:"gte=0"`
	ScanWorkers int `mapstructure:"scan_workers" validate:"gte=1,lte=256"`

	// Geometry is only consulted by format; mount reads it from the
	// superblock.
	Geometry geom.Config `mapstructure:"geometry"`

	Log LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Trace is the highest DPrintf level emitted at debug level.
	Trace uint64 `mapstructure:"trace"`
}

func setDefaults(v *viper.Viper) {
	g := geom.DefaultConfig()
	v.SetDefault("disk", "lfs.img")
	v.SetDefault("inode_map", "")
	v.SetDefault("cache_blocks", 1024)
	v.SetDefault("scan_workers", 8)
	v.SetDefault("geometry.block_size", g.BlockSize)
	v.SetDefault("geometry.pointer_width", g.PointerWidth)
	v.SetDefault("geometry.direct_count", g.DirectCount)
	v.SetDefault("geometry.single_count", g.SingleCount)
	v.SetDefault("geometry.double_count", g.DoubleCount)
	v.SetDefault("geometry.triple_count", g.TripleCount)
	v.SetDefault("geometry.blocks_per_segment", g.BlocksPerSegment)
	v.SetDefault("geometry.segments", g.Segments)
	v.SetDefault("geometry.max_inodes", g.MaxInodes)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.trace", 1)
}

// New returns a viper instance with defaults and environment lookup set
// up, reading file if it is non-empty. Callers may bind flags to it before
// calling Load.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}
	return v, nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if _, err := geom.New(c.Geometry); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	return nil
}
