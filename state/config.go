// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Fantom-foundation/adsexec/backend/ads"
)

// DefaultBlockHashWindow is the number of most recent block hashes served
// by snapshots.
const DefaultBlockHashWindow = 256

// DefaultCodeCacheSize is the number of contracts cached by default.
const DefaultCodeCacheSize = 1024

// Config summarizes the configuration options of a state controller.
type Config struct {
	// Directory hosting the store; ads.DefaultDirectory if empty.
	Directory string `toml:"data_directory"`
	// Backend is the storage engine of the store; LevelDB if empty.
	Backend ads.Backend `toml:"backend"`
	// StartHeight is the first height expected on an empty store.
	StartHeight uint64 `toml:"start_height"`
	// BlockHashWindow is the number of recent block hashes readable from
	// a snapshot.
	BlockHashWindow uint64 `toml:"block_hash_window"`
	// CompactionInterval is the number of heights between background
	// compactions of the store. Zero disables compactions.
	CompactionInterval uint64 `toml:"compaction_interval"`
	// CodeCacheSize is the number of contracts cached for all snapshots.
	CodeCacheSize int `toml:"code_cache_size"`
}

// DefaultConfig returns the config used for fields not set explicitly.
func DefaultConfig() Config {
	return Config{
		Directory:       ads.DefaultDirectory,
		Backend:         ads.LevelDB,
		BlockHashWindow: DefaultBlockHashWindow,
		CodeCacheSize:   DefaultCodeCacheSize,
	}
}

// WithDefaults returns a copy of the config with empty fields set to their
// default values.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Directory == "" {
		c.Directory = def.Directory
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.BlockHashWindow == 0 {
		c.BlockHashWindow = def.BlockHashWindow
	}
	if c.CodeCacheSize <= 0 {
		c.CodeCacheSize = def.CodeCacheSize
	}
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("%s@%s", c.Backend, c.Directory)
}

func (c Config) storeConfig() ads.Config {
	return ads.Config{
		Directory:          c.Directory,
		Backend:            c.Backend,
		CompactionInterval: c.CompactionInterval,
	}
}

// LoadConfig reads a config from the given TOML file. Unknown keys are
// rejected, missing keys are set to their defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return cfg, fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
	}
	cfg = cfg.WithDefaults()
	switch cfg.Backend {
	case ads.LevelDB, ads.SQLite:
	default:
		return cfg, fmt.Errorf("unsupported backend %q in config %s", cfg.Backend, path)
	}
	return cfg, nil
}
