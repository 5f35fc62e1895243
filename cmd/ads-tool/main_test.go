// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/common/amount"
	"github.com/Fantom-foundation/adsexec/state"
)

func run(args ...string) error {
	return newApp().Run(append([]string{"ads-tool", "--verbosity", "1"}, args...))
}

func TestTool_InitInfoAccountAndDrop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	if err := run("init", "--backend", "sqlite", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	meta, err := ads.ReadMetadata(dir)
	if err != nil || meta.Backend != ads.SQLite {
		t.Fatalf("unexpected metadata %+v, err %v", meta, err)
	}

	ctrl, err := state.OpenController(state.Config{Directory: dir, Backend: ads.SQLite})
	if err != nil {
		t.Fatalf("failed to open state: %v", err)
	}
	if err := ctrl.StartBlock(0, nil); err != nil {
		t.Fatalf("failed to start block: %v", err)
	}
	w, _ := ctrl.Writer()
	if err := w.WriteAccount(common.Address{1}, state.NewAccountRecord(1, amount.New(2))); err != nil {
		t.Fatalf("failed to write account: %v", err)
	}
	if err := w.WriteStorage(common.Address{1}, common.Key{31: 1}, common.Value{1}); err != nil {
		t.Fatalf("failed to write slot: %v", err)
	}
	if err := ctrl.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	if err := run("info", dir); err != nil {
		t.Errorf("info failed: %v", err)
	}
	if err := run("account", "--slot", "0x01", dir, "0", "0x0100000000000000000000000000000000000000"); err != nil {
		t.Errorf("account failed: %v", err)
	}
	if err := run("account", dir, "1", "0x0100000000000000000000000000000000000000"); !errors.Is(err, state.ErrSequence) {
		t.Errorf("account at future height should fail, got %v", err)
	}
	if err := run("account", dir, "0", "0x01"); err == nil {
		t.Errorf("short address should be rejected")
	}
	if err := run("drop", dir); err != nil {
		t.Errorf("drop failed: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("directory should be removed, got %v", err)
	}
}

func TestTool_ConfigFileIsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	stateDir := filepath.Join(dir, "state")
	if err := os.WriteFile(path, []byte("backend = \"sqlite\"\nstart_height = 12\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if err := run("--config", path, "init", stateDir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	ctrl, err := state.OpenController(state.Config{Directory: stateDir, Backend: ads.SQLite, StartHeight: 12})
	if err != nil {
		t.Fatalf("state should use configured backend: %v", err)
	}
	defer ctrl.Close()
	if next := ctrl.NextHeight(); next != 12 {
		t.Errorf("unexpected next height %d", next)
	}
}

func TestTool_InvalidArgumentsAreRejected(t *testing.T) {
	dir := t.TempDir()
	tests := [][]string{
		{"init"},
		{"init", "--backend", "rocksdb", dir},
		{"info"},
		{"info", dir},
		{"account", dir, "x", "0x01"},
		{"drop", dir},
	}
	for _, args := range tests {
		if err := run(args...); err == nil {
			t.Errorf("command %v should fail", args)
		}
	}
}
