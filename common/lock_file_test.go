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
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockFile_DefaultLockFileIsInvalid(t *testing.T) {
	lock := lockFile{}
	if lock.Valid() {
		t.Errorf("default lock file should be invalid")
	}
}

func TestLockFile_CanBeAcquiredAndReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	lock, err := CreateLockFile(path)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if !lock.Valid() {
		t.Errorf("acquired lock should be valid")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock file should exist while lock is held: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}
	if lock.Valid() {
		t.Errorf("released lock should be invalid")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file should be removed after release, got %v", err)
	}
}

func TestLockFile_CanNotBeAcquiredTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	lock, err := CreateLockFile(path)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := CreateLockFile(path); err == nil {
		t.Errorf("acquiring a held lock should fail")
	}
}

func TestLockFile_CanNotBeReleasedTwice(t *testing.T) {
	lock, err := CreateLockFile(filepath.Join(t.TempDir(), "lock"))
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}
	if err := lock.Release(); err == nil {
		t.Errorf("second release should fail")
	}
}
