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

	"github.com/Fantom-foundation/adsexec/common"
)

// Writer adds state changes to the block open at its creation. All changes
// become visible once the block is flushed. A writer must not be used after
// its block was flushed or aborted.
type Writer struct {
	ctrl   *Controller
	height uint64
	epoch  uint64
}

// Height is the height of the block the writer adds changes to.
func (w *Writer) Height() uint64 {
	return w.height
}

// WriteState applies the given diff to the open block. Changes are written
// in normalized order; the caller's diff is left untouched.
func (w *Writer) WriteState(diff *StateDiff) error {
	diff = diff.Clone()
	if err := diff.Normalize(); err != nil {
		return fmt.Errorf("invalid state diff for block %d: %w", w.height, err)
	}
	for _, change := range diff.Accounts {
		if err := w.WriteAccount(change.Address, change.Info); err != nil {
			return err
		}
	}
	for _, change := range diff.Slots {
		if err := w.WriteStorage(change.Address, change.Key, change.Value); err != nil {
			return err
		}
	}
	for _, change := range diff.Codes {
		if err := w.writeCode(change.Hash, change.Code); err != nil {
			return err
		}
	}
	return nil
}

// WriteAccount sets the record of an account. A nil record deletes it.
func (w *Writer) WriteAccount(address common.Address, info *AccountRecord) error {
	key := AccountKey(address)
	if info == nil {
		return w.check(w.ctrl.remove(w.epoch, key))
	}
	return w.check(w.ctrl.put(w.epoch, key, AccountRecordSerializer{}.ToBytes(*info)))
}

// WriteStorage sets the value of a storage slot. A zero value clears it.
func (w *Writer) WriteStorage(address common.Address, slot common.Key, value common.Value) error {
	key := SlotKey(address, slot)
	if value.IsZero() {
		return w.check(w.ctrl.remove(w.epoch, key))
	}
	return w.check(w.ctrl.put(w.epoch, key, value[:]))
}

// WriteCode stores the given code and returns its hash.
func (w *Writer) WriteCode(code []byte) (common.Hash, error) {
	hash := common.Keccak256(code)
	return hash, w.writeCode(hash, code)
}

func (w *Writer) writeCode(hash common.Hash, code []byte) error {
	if len(code) > MaxCodeSize {
		return fmt.Errorf("code %v of %d bytes exceeds limit of %d bytes", hash, len(code), MaxCodeSize)
	}
	if hash == common.EmptyCodeHash {
		return nil
	}
	return w.check(w.ctrl.put(w.epoch, CodeKey(hash), code))
}

// WriteBlockHash records the hash of the given block.
func (w *Writer) WriteBlockHash(number uint64, hash common.Hash) error {
	return w.check(w.ctrl.put(w.epoch, BlockHashKey(number), hash[:]))
}

func (w *Writer) check(err error) error {
	if err != nil {
		return fmt.Errorf("failed to write state of block %d: %w", w.height, err)
	}
	return nil
}
