// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"fmt"
	"os"
	"strconv"
)

// LockFile is an exclusive, file-system based lock guarding a directory
// against concurrent use by multiple processes.
type LockFile interface {
	// Release gives up the lock by closing and deleting the lock file. A lock
	// can only be released once.
	Release() error
	// Valid reports whether the lock is still held.
	Valid() bool
}

type lockFile struct {
	path string
	file *os.File
}

// CreateLockFile acquires the lock at the given path. It fails if the file
// already exists, which is the case while another process holds the lock or
// after a process holding it crashed.
func CreateLockFile(path string) (LockFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	return &lockFile{path: path, file: file}, nil
}

func (f *lockFile) Valid() bool {
	return f.file != nil
}

func (f *lockFile) Release() error {
	if f.file == nil {
		return fmt.Errorf("unable to release invalid lock")
	}
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("failed to release file lock: %w", err)
	}
	if err := os.Remove(f.path); err != nil {
		return fmt.Errorf("failed to release file lock: %w", err)
	}
	f.file = nil
	return nil
}
