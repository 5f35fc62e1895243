// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ads

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Backend names the storage engine of a store.
type Backend string

const (
	LevelDB Backend = "leveldb"
	SQLite  Backend = "sqlite"
)

// DefaultDirectory is used if no directory is configured.
const DefaultDirectory = "ads"

// CurrentVersion is the on-disk format version written by this package.
const CurrentVersion = 1

const (
	metadataFile = "ads.json"
	lockFile     = "ads.lock"
)

// Config describes the location and layout of a store.
type Config struct {
	// Directory is where the store keeps its files.
	Directory string
	// Backend selects the storage engine; LevelDB if empty.
	Backend Backend
	// CompactionInterval triggers a background compaction every given
	// number of flushed heights. Zero disables compactions.
	CompactionInterval uint64
}

// WithDefaults returns a copy of the config with empty fields set to their
// default values.
func (c Config) WithDefaults() Config {
	if c.Directory == "" {
		c.Directory = DefaultDirectory
	}
	if c.Backend == "" {
		c.Backend = LevelDB
	}
	return c
}

// LockPath is the file guarding the store directory against concurrent use.
func (c Config) LockPath() string {
	return filepath.Join(c.WithDefaults().Directory, lockFile)
}

// Metadata is the content of the metadata file of a store directory.
type Metadata struct {
	Version int     `json:"version"`
	Backend Backend `json:"backend"`
}

// InitDir prepares the configured directory for hosting a store. A new
// directory is created and stamped with metadata. An existing store
// directory is accepted if its metadata matches the config. Directories
// containing foreign files, unreadable metadata, or a store of a different
// version or backend are rejected.
func InitDir(config Config) error {
	config = config.WithDefaults()
	dir := config.Directory
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	meta, err := ReadMetadata(dir)
	if err == nil {
		if meta.Version != CurrentVersion {
			return fmt.Errorf("%w: directory %s has version %d, supported is %d", ErrIncompatibleVersion, dir, meta.Version, CurrentVersion)
		}
		if meta.Backend != config.Backend {
			return fmt.Errorf("%w: directory %s uses backend %s, configured is %s", ErrIncompatibleVersion, dir, meta.Backend, config.Backend)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list store directory %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: directory %s is not empty and has no metadata", ErrCorruptMetadata, dir)
	}
	return writeMetadata(dir, Metadata{Version: CurrentVersion, Backend: config.Backend})
}

// ReadMetadata loads the metadata of the store in the given directory.
func ReadMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	return meta, nil
}

func writeMetadata(dir string, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
