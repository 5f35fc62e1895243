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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/common/amount"
	"go.uber.org/mock/gomock"
)

var backends = []ads.Backend{ads.LevelDB, ads.SQLite}

func openController(t *testing.T, config Config) *Controller {
	t.Helper()
	ctrl, err := OpenController(config)
	if err != nil {
		t.Fatalf("failed to open controller: %v", err)
	}
	t.Cleanup(func() {
		if err := ctrl.Close(); err != nil {
			t.Errorf("failed to close controller: %v", err)
		}
	})
	return ctrl
}

func runBlock(t *testing.T, ctrl *Controller, height uint64, write func(w *Writer)) {
	t.Helper()
	if err := ctrl.StartBlock(height, nil); err != nil {
		t.Fatalf("failed to start block %d: %v", height, err)
	}
	w, err := ctrl.Writer()
	if err != nil {
		t.Fatalf("failed to get writer: %v", err)
	}
	write(w)
	if err := ctrl.Flush(); err != nil {
		t.Fatalf("failed to flush block %d: %v", height, err)
	}
}

func getAccount(t *testing.T, ctrl *Controller, height uint64, address common.Address) *AccountRecord {
	t.Helper()
	snapshot, err := ctrl.Snapshot(height)
	if err != nil {
		t.Fatalf("failed to get snapshot at %d: %v", height, err)
	}
	record, err := snapshot.Account(address)
	if err != nil {
		t.Fatalf("failed to read account %v at %d: %v", address, height, err)
	}
	return record
}

func TestController_FlushedWritesAreVisibleAtTheirHeight(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			ctrl := openController(t, Config{Directory: t.TempDir(), Backend: backend, StartHeight: 99})
			address := common.Address{0x12}

			runBlock(t, ctrl, 99, func(w *Writer) {})
			before, err := ctrl.Snapshot(99)
			if err != nil {
				t.Fatalf("failed to get snapshot: %v", err)
			}

			diff := &StateDiff{}
			diff.AppendAccount(address, NewAccountRecord(0, amount.New(5)))
			runBlock(t, ctrl, 100, func(w *Writer) {
				if err := w.WriteState(diff); err != nil {
					t.Fatalf("failed to write state: %v", err)
				}
			})

			record := getAccount(t, ctrl, 100, address)
			if record == nil || record.Balance != amount.New(5) {
				t.Errorf("unexpected account at height 100, got %v", record)
			}
			if record, err := before.Account(address); err != nil || record != nil {
				t.Errorf("account should be absent at height 99, got %v, err %v", record, err)
			}
		})
	}
}

func TestController_DeletedAccountsAreAbsentButHistoryIsKept(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			ctrl := openController(t, Config{Directory: t.TempDir(), Backend: backend, StartHeight: 1})
			address := common.Address{1}
			runBlock(t, ctrl, 1, func(w *Writer) {
				if err := w.WriteAccount(address, NewAccountRecord(1, amount.New(10))); err != nil {
					t.Fatalf("failed to write account: %v", err)
				}
				if err := w.WriteStorage(address, common.Key{1}, common.Value{7}); err != nil {
					t.Fatalf("failed to write storage: %v", err)
				}
			})
			runBlock(t, ctrl, 2, func(w *Writer) {
				diff := &StateDiff{}
				diff.AppendAccount(address, nil)
				diff.AppendSlot(address, common.Key{1}, common.Value{})
				if err := w.WriteState(diff); err != nil {
					t.Fatalf("failed to write state: %v", err)
				}
			})

			if record := getAccount(t, ctrl, 2, address); record != nil {
				t.Errorf("deleted account should be absent, got %v", record)
			}
			if record := getAccount(t, ctrl, 1, address); record == nil || record.Nonce != 1 {
				t.Errorf("account should still be readable at height 1, got %v", record)
			}
			for height, want := range map[uint64]common.Value{1: {7}, 2: {}} {
				snapshot, _ := ctrl.Snapshot(height)
				got, err := snapshot.Storage(address, common.Key{1})
				if err != nil || got != want {
					t.Errorf("unexpected slot value at height %d, wanted %v, got %v, err %v", height, want, got, err)
				}
			}
		})
	}
}

func TestController_CodeAndBlockHashesAreReadable(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			ctrl := openController(t, Config{Directory: t.TempDir(), Backend: backend, BlockHashWindow: 2})
			code := []byte{0x60, 0x00, 0x60, 0x00}
			var codeHash common.Hash
			for i := uint64(0); i < 4; i++ {
				runBlock(t, ctrl, i, func(w *Writer) {
					if i == 0 {
						var err error
						if codeHash, err = w.WriteCode(code); err != nil {
							t.Fatalf("failed to write code: %v", err)
						}
					}
					if err := w.WriteBlockHash(i, common.Hash{byte(i + 1)}); err != nil {
						t.Fatalf("failed to write block hash: %v", err)
					}
				})
			}
			snapshot, err := ctrl.Snapshot(3)
			if err != nil {
				t.Fatalf("failed to get snapshot: %v", err)
			}
			got, err := snapshot.Code(codeHash)
			if err != nil || string(got) != string(code) {
				t.Errorf("unexpected code, wanted %x, got %x, err %v", code, got, err)
			}
			for _, number := range []uint64{2, 3} {
				if hash, err := snapshot.BlockHash(number); err != nil || hash != (common.Hash{byte(number + 1)}) {
					t.Errorf("unexpected hash of block %d: %v, err %v", number, hash, err)
				}
			}
			for _, number := range []uint64{0, 1, 4} {
				if _, err := snapshot.BlockHash(number); !errors.Is(err, ErrNotFound) {
					t.Errorf("hash of block %d should not be found, got %v", number, err)
				}
			}
		})
	}
}

func TestController_HeightsMustBeSequential(t *testing.T) {
	ctrl := openController(t, Config{Directory: t.TempDir(), StartHeight: 10})
	if _, exists := ctrl.Height(); exists {
		t.Errorf("new controller should have no height")
	}
	for _, height := range []uint64{0, 9, 11} {
		if err := ctrl.StartBlock(height, nil); !errors.Is(err, ErrSequence) {
			t.Errorf("starting block %d should fail with sequence error, got %v", height, err)
		}
	}
	runBlock(t, ctrl, 10, func(w *Writer) {})
	if height, exists := ctrl.Height(); !exists || height != 10 {
		t.Errorf("unexpected height %d/%t", height, exists)
	}
	for _, height := range []uint64{10, 12} {
		if err := ctrl.StartBlock(height, nil); !errors.Is(err, ErrSequence) {
			t.Errorf("starting block %d should fail with sequence error, got %v", height, err)
		}
	}
	if err := ctrl.StartBlock(11, nil); err != nil {
		t.Fatalf("failed to start block 11: %v", err)
	}
	if err := ctrl.StartBlock(12, nil); !errors.Is(err, ErrSequence) {
		t.Errorf("starting a block while another is active should fail, got %v", err)
	}
}

func TestController_LifecycleCallsOutOfOrderAreRejected(t *testing.T) {
	ctrl := openController(t, Config{Directory: t.TempDir()})
	if _, err := ctrl.Writer(); !errors.Is(err, ErrSequence) {
		t.Errorf("writer without block should fail, got %v", err)
	}
	if err := ctrl.Flush(); !errors.Is(err, ErrSequence) {
		t.Errorf("flush without block should fail, got %v", err)
	}
	if err := ctrl.Abort(); !errors.Is(err, ErrSequence) {
		t.Errorf("abort without block should fail, got %v", err)
	}
	if _, err := ctrl.Snapshot(0); !errors.Is(err, ErrSequence) {
		t.Errorf("snapshot of unflushed height should fail, got %v", err)
	}
	runBlock(t, ctrl, 0, func(w *Writer) {})
	if _, err := ctrl.Snapshot(1); !errors.Is(err, ErrSequence) {
		t.Errorf("snapshot of future height should fail, got %v", err)
	}
}

func TestController_WritersExpireWithTheirBlock(t *testing.T) {
	ctrl := openController(t, Config{Directory: t.TempDir()})
	var writer *Writer
	runBlock(t, ctrl, 0, func(w *Writer) { writer = w })
	if err := writer.WriteAccount(common.Address{1}, NewAccountRecord(1, amount.New())); !errors.Is(err, ErrSequence) {
		t.Errorf("writing after flush should fail, got %v", err)
	}

	if err := ctrl.StartBlock(1, nil); err != nil {
		t.Fatalf("failed to start block: %v", err)
	}
	if err := writer.WriteAccount(common.Address{1}, NewAccountRecord(1, amount.New())); !errors.Is(err, ErrSequence) {
		t.Errorf("writer of an earlier block should not write into the next one, got %v", err)
	}
	current, err := ctrl.Writer()
	if err != nil {
		t.Fatalf("failed to get writer: %v", err)
	}
	if err := ctrl.Abort(); err != nil {
		t.Fatalf("failed to abort: %v", err)
	}
	if err := current.WriteStorage(common.Address{1}, common.Key{}, common.Value{1}); !errors.Is(err, ErrSequence) {
		t.Errorf("writing after abort should fail, got %v", err)
	}
}

func TestController_AbortedBlockCanBeRestarted(t *testing.T) {
	ctrl := openController(t, Config{Directory: t.TempDir()})
	address := common.Address{1}
	if err := ctrl.StartBlock(0, nil); err != nil {
		t.Fatalf("failed to start block: %v", err)
	}
	w, _ := ctrl.Writer()
	if err := w.WriteAccount(address, NewAccountRecord(1, amount.New())); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if err := ctrl.Abort(); err != nil {
		t.Fatalf("failed to abort: %v", err)
	}
	runBlock(t, ctrl, 0, func(w *Writer) {})
	if record := getAccount(t, ctrl, 0, address); record != nil {
		t.Errorf("aborted write should not be visible, got %v", record)
	}
}

func TestController_OversizedCodeIsRejected(t *testing.T) {
	ctrl := openController(t, Config{Directory: t.TempDir()})
	if err := ctrl.StartBlock(0, nil); err != nil {
		t.Fatalf("failed to start block: %v", err)
	}
	w, _ := ctrl.Writer()
	if _, err := w.WriteCode(make([]byte, MaxCodeSize+1)); err == nil {
		t.Errorf("oversized code should be rejected")
	}
	if _, err := w.WriteCode(make([]byte, MaxCodeSize)); err != nil {
		t.Errorf("code of maximum size should be accepted, got %v", err)
	}
}

func TestController_FailedFlushCanBeRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := ads.NewMockStore(ctrl)
	reader := ads.NewMockReader(ctrl)
	injected := fmt.Errorf("disk full")

	address := common.Address{1}
	key := AccountKey(address)
	record := AccountRecordSerializer{}.ToBytes(*NewAccountRecord(1, amount.New(5)))

	gomock.InOrder(
		store.EXPECT().LastHeight().Return(uint64(4), true, nil),
		store.EXPECT().SharedReader().Return(reader),
		store.EXPECT().StartBlock(uint64(5), nil),
		store.EXPECT().Put(key.Hash, key.Raw, record),
		store.EXPECT().Flush().Return(injected),
		store.EXPECT().Flush().Return(nil),
		store.EXPECT().Close(),
	)

	state, err := NewController(store, Config{})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	if err := state.StartBlock(5, nil); err != nil {
		t.Fatalf("failed to start block: %v", err)
	}
	w, _ := state.Writer()
	if err := w.WriteAccount(address, NewAccountRecord(1, amount.New(5))); err != nil {
		t.Fatalf("failed to write account: %v", err)
	}

	err = state.Flush()
	if !errors.Is(err, ErrCommit) || !errors.Is(err, injected) {
		t.Errorf("unexpected flush error: %v", err)
	}
	if height, _ := state.Height(); height != 4 {
		t.Errorf("failed flush should not advance height, got %d", height)
	}
	if _, err := state.Writer(); err != nil {
		t.Errorf("block should still be active after failed flush, got %v", err)
	}
	if err := state.Flush(); err != nil {
		t.Fatalf("retried flush failed: %v", err)
	}
	if height, _ := state.Height(); height != 5 {
		t.Errorf("unexpected height after retry: %d", height)
	}
	if err := state.Close(); err != nil {
		t.Errorf("failed to close: %v", err)
	}
}

func TestController_CloseAbortsActiveBlockAndIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := ads.NewMockStore(ctrl)

	gomock.InOrder(
		store.EXPECT().LastHeight().Return(uint64(0), false, nil),
		store.EXPECT().SharedReader().Return(nil),
		store.EXPECT().StartBlock(uint64(0), nil),
		store.EXPECT().Abort(),
		store.EXPECT().Close(),
	)

	state, err := NewController(store, Config{})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	if err := state.StartBlock(0, nil); err != nil {
		t.Fatalf("failed to start block: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := state.Close(); err != nil {
			t.Errorf("failed to close: %v", err)
		}
	}
	if err := state.StartBlock(0, nil); !errors.Is(err, ErrSequence) {
		t.Errorf("closed controller should reject blocks, got %v", err)
	}
}

func TestController_ReopenedStateContinuesAtLastHeight(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			config := Config{Directory: t.TempDir(), Backend: backend, StartHeight: 7}
			address := common.Address{1}

			ctrl, err := OpenController(config)
			if err != nil {
				t.Fatalf("failed to open controller: %v", err)
			}
			runBlock(t, ctrl, 7, func(w *Writer) {
				w.WriteAccount(address, NewAccountRecord(3, amount.New()))
			})
			root, err := ctrl.RootHash(7)
			if err != nil {
				t.Fatalf("failed to get root: %v", err)
			}
			if err := ctrl.Close(); err != nil {
				t.Fatalf("failed to close: %v", err)
			}

			ctrl = openController(t, config)
			if height, exists := ctrl.Height(); !exists || height != 7 {
				t.Errorf("unexpected height after reopen: %d/%t", height, exists)
			}
			if got, err := ctrl.RootHash(7); err != nil || got != root {
				t.Errorf("unexpected root after reopen, wanted %v, got %v, err %v", root, got, err)
			}
			if record := getAccount(t, ctrl, 7, address); record == nil || record.Nonce != 3 {
				t.Errorf("unexpected account after reopen: %v", record)
			}
			if err := ctrl.StartBlock(7, nil); !errors.Is(err, ErrSequence) {
				t.Errorf("height 7 should not be restartable, got %v", err)
			}
			runBlock(t, ctrl, 8, func(w *Writer) {})
		})
	}
}

func TestController_UnusableDirectoryIsReported(t *testing.T) {
	dir := t.TempDir()
	first := openController(t, Config{Directory: dir})
	if _, err := OpenController(Config{Directory: dir}); !errors.Is(err, ErrInitialization) {
		t.Errorf("locked directory should be reported, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if _, err := OpenController(Config{Directory: dir, Backend: ads.SQLite}); !errors.Is(err, ErrInitialization) {
		t.Errorf("directory of other backend should be rejected, got %v", err)
	}
}

func TestController_SnapshotsCanBeReadConcurrentlyWithBlockProcessing(t *testing.T) {
	ctrl := openController(t, Config{Directory: t.TempDir()})
	const numBlocks = 20
	address := common.Address{1}

	runBlock(t, ctrl, 0, func(w *Writer) {
		w.WriteAccount(address, NewAccountRecord(0, amount.New()))
	})

	var wg sync.WaitGroup
	errs := make(chan error, numBlocks)
	for i := uint64(1); i <= numBlocks; i++ {
		snapshot, err := ctrl.Snapshot(i - 1)
		if err != nil {
			t.Fatalf("failed to get snapshot: %v", err)
		}
		wg.Add(1)
		go func(snapshot *Snapshot, want uint64) {
			defer wg.Done()
			record, err := snapshot.Account(address)
			if err != nil {
				errs <- err
				return
			}
			if record == nil || record.Nonce != want {
				errs <- fmt.Errorf("unexpected account at height %d: %v", snapshot.Height(), record)
			}
		}(snapshot, i-1)
		runBlock(t, ctrl, i, func(w *Writer) {
			w.WriteAccount(address, NewAccountRecord(i, amount.New()))
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestController_WriteStateLeavesCallerDiffUnchanged(t *testing.T) {
	ctrl := openController(t, Config{Directory: t.TempDir()})
	diff := &StateDiff{}
	diff.AppendAccount(common.Address{3}, NewAccountRecord(0, amount.New(3)))
	diff.AppendAccount(common.Address{1}, NewAccountRecord(0, amount.New(1)))
	diff.AppendAccount(common.Address{3}, NewAccountRecord(0, amount.New(3)))
	diff.AppendSlot(common.Address{2}, common.Key{2}, common.Value{2})
	diff.AppendSlot(common.Address{1}, common.Key{1}, common.Value{1})

	runBlock(t, ctrl, 0, func(w *Writer) {
		if err := w.WriteState(diff); err != nil {
			t.Fatalf("failed to write state: %v", err)
		}
	})

	if len(diff.Accounts) != 3 || diff.Accounts[0].Address != (common.Address{3}) || diff.Accounts[1].Address != (common.Address{1}) {
		t.Errorf("account changes of caller were modified: %v", diff.Accounts)
	}
	if len(diff.Slots) != 2 || diff.Slots[0].Address != (common.Address{2}) {
		t.Errorf("slot changes of caller were modified: %v", diff.Slots)
	}
	if record := getAccount(t, ctrl, 0, common.Address{1}); record == nil || record.Balance != amount.New(1) {
		t.Errorf("unexpected account after write, got %v", record)
	}
}
