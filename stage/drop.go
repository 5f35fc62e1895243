// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/state"
	"github.com/ethereum/go-ethereum/log"
)

// DropExecutionState discards the execution state in the configured
// directory, forcing blocks to be re-executed from genesis. Directories
// not hosting an execution state, or hosting one in use, are left alone.
func DropExecutionState(config state.Config) error {
	config = config.WithDefaults()
	dir := config.Directory
	if _, err := ads.ReadMetadata(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s does not contain an execution state: %w", dir, err)
		}
		return err
	}
	// Holding the lock ensures no process uses the state while it is removed.
	lockPath := ads.Config{Directory: dir}.LockPath()
	lock, err := common.CreateLockFile(lockPath)
	if err != nil {
		return fmt.Errorf("execution state in %s is in use: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Join(err, lock.Release())
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if path == lockPath {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return errors.Join(fmt.Errorf("failed to remove %s: %w", path, err), lock.Release())
		}
	}
	if err := lock.Release(); err != nil {
		return err
	}
	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	log.Info("Dropped execution state", "dir", dir)
	return nil
}
