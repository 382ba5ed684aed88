// Package config loads the buffer pool's external configuration. This is
// the "configuration loading" collaborator spec.md section 1 calls out of
// scope for the manager's own logic: BufferManager is constructed from
// already-resolved scalars and never imports this package.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// BufferPoolConfig mirrors spec.md section 6's Configuration/Constants
// blocks: the budget, the spill directory, and the block sizing constants.
type BufferPoolConfig struct {
	MaximumMemory   int64  `mapstructure:"maximum_memory"`
	TempDirectory   string `mapstructure:"temp_directory"`
	BlockSize       int    `mapstructure:"block_size"`
	BlockHeaderSize int    `mapstructure:"block_header_size"`
}

// Load reads a YAML config file at path into a BufferPoolConfig, grounded on
// tuannm99-novasql's viper-based LoadConfig.
func Load(path string) (*BufferPoolConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("block_size", 4096)
	v.SetDefault("block_header_size", 8)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg BufferPoolConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}

// BlockAllocSize is spec.md's BLOCK_ALLOC_SIZE: the total bytes reserved per
// persistent block slot.
func (c *BufferPoolConfig) BlockAllocSize() int {
	return c.BlockSize + c.BlockHeaderSize
}
