// Package config holds the settings of a synchronized workspace.
//
// Settings are read from a yaml file and may be overridden by VAULTSYNC_*
// environment variables, e.g. VAULTSYNC_BLOCKSIZE=1MiB.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	// EnvPrefix is the prefix of environment variables overriding the configuration
	EnvPrefix = "VAULTSYNC"

	// DefaultBlockSize is the alignment granularity of file content
	DefaultBlockSize = 512 * units.KiB

	// DefaultBlockCacheSize is the memory budget of the clean block cache
	DefaultBlockCacheSize = 50 * units.MiB

	// DefaultMaxConcurrency bounds the number of children synchronized in parallel
	DefaultMaxConcurrency = 8

	// DefaultPollInterval is the period of the monitor when no change notification is received
	DefaultPollInterval = 30 * time.Second
)

// ErrInvalidConfig indicates a configuration which cannot be used
var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes the settings of a workspace
type Config struct {
	DataDir        string        `mapstructure:"datadir" json:"datadir,omitempty" yaml:"datadir,omitempty"`
	LogLevel       string        `mapstructure:"loglevel" json:"loglevel,omitempty" yaml:"loglevel,omitempty"`
	BlockSize      string        `mapstructure:"blocksize" json:"blocksize,omitempty" yaml:"blocksize,omitempty"`
	BlockCacheSize string        `mapstructure:"blockcachesize" json:"blockcachesize,omitempty" yaml:"blockcachesize,omitempty"`
	MaxConcurrency int           `mapstructure:"maxconcurrency" json:"maxconcurrency,omitempty" yaml:"maxconcurrency,omitempty"`
	PollInterval   time.Duration `mapstructure:"pollinterval" json:"pollinterval,omitempty" yaml:"pollinterval,omitempty"`
}

// Default configuration
func Default() Config {
	return Config{
		DataDir:        filepath.Join(".vaultsync", "data"),
		LogLevel:       "info",
		BlockSize:      units.BytesSize(DefaultBlockSize),
		BlockCacheSize: units.BytesSize(DefaultBlockCacheSize),
		MaxConcurrency: DefaultMaxConcurrency,
		PollInterval:   DefaultPollInterval,
	}
}

// Load reads a configuration file, when path is not empty, then applies environment overrides
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("datadir", def.DataDir)
	v.SetDefault("loglevel", def.LogLevel)
	v.SetDefault("blocksize", def.BlockSize)
	v.SetDefault("blockcachesize", def.BlockCacheSize)
	v.SetDefault("maxconcurrency", def.MaxConcurrency)
	v.SetDefault("pollinterval", def.PollInterval)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, ErrInvalidConfig.Wrap(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, ErrInvalidConfig.Wrap(err)
	}
	return cfg, cfg.Validate()
}

// Validate the configuration
func (c Config) Validate() error {
	blocksize, err := c.BlockSizeBytes()
	if err != nil {
		return err
	}
	cache, err := c.BlockCacheBytes()
	if err != nil {
		return err
	}
	switch {
	case blocksize == 0:
		return ErrInvalidConfig.WrapMessage("block size must be positive")
	case cache < blocksize:
		return ErrInvalidConfig.WrapMessage("block cache size %s is smaller than a block", c.BlockCacheSize)
	case c.MaxConcurrency < 1:
		return ErrInvalidConfig.WrapMessage("max concurrency must be at least 1, got %d", c.MaxConcurrency)
	case c.PollInterval <= 0:
		return ErrInvalidConfig.WrapMessage("poll interval must be positive, got %v", c.PollInterval)
	}
	switch c.LogLevel {
	case "", "none", "debug", "info", "warn", "error":
	default:
		return ErrInvalidConfig.WrapMessage("unknown log level %q", c.LogLevel)
	}
	return nil
}

// BlockSizeBytes parses the block size
func (c Config) BlockSizeBytes() (uint64, error) {
	return parseSize("blocksize", c.BlockSize)
}

// BlockCacheBytes parses the block cache size
func (c Config) BlockCacheBytes() (uint64, error) {
	return parseSize("blockcachesize", c.BlockCacheSize)
}

// BlockCacheEntries is the number of blocks held by the clean block cache
func (c Config) BlockCacheEntries() int {
	blocksize, err := c.BlockSizeBytes()
	if err != nil || blocksize == 0 {
		return 1
	}
	cache, err := c.BlockCacheBytes()
	if err != nil || cache < blocksize {
		return 1
	}
	return int(cache / blocksize)
}

func parseSize(key, value string) (uint64, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, ErrInvalidConfig.WrapMessage("%s: %v", key, err)
	}
	if size < 0 {
		return 0, ErrInvalidConfig.WrapMessage("%s: negative size %q", key, value)
	}
	return uint64(size), nil
}

// Dump renders the configuration as yaml
func (c Config) Dump() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("dumping configuration: %w", err)
	}
	return b, nil
}
