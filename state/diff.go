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
	"bytes"
	"fmt"

	"github.com/Fantom-foundation/adsexec/common"
	"golang.org/x/exp/slices"
)

// StateDiff summarizes the reconciled state changes of one or more blocks.
// Only the final value of each changed element is carried.
type StateDiff struct {
	Accounts []AccountChange
	Slots    []SlotChange
	Codes    []CodeChange
}

// AccountChange sets the record of an account. A nil Info deletes the
// account.
type AccountChange struct {
	Address common.Address
	Info    *AccountRecord
}

// SlotChange sets a storage slot. A zero value clears the slot.
type SlotChange struct {
	Address common.Address
	Key     common.Key
	Value   common.Value
}

// CodeChange introduces a piece of contract code, addressed by its hash.
type CodeChange struct {
	Hash common.Hash
	Code []byte
}

// IsEmpty is true if the diff contains no changes.
func (d *StateDiff) IsEmpty() bool {
	return len(d.Accounts) == 0 && len(d.Slots) == 0 && len(d.Codes) == 0
}

// AppendAccount records a new account record, nil for a deleted account.
func (d *StateDiff) AppendAccount(address common.Address, info *AccountRecord) {
	d.Accounts = append(d.Accounts, AccountChange{Address: address, Info: info})
}

// AppendSlot records a new slot value.
func (d *StateDiff) AppendSlot(address common.Address, key common.Key, value common.Value) {
	d.Slots = append(d.Slots, SlotChange{Address: address, Key: key, Value: value})
}

// AppendCode records a new piece of code and returns its hash.
func (d *StateDiff) AppendCode(code []byte) common.Hash {
	hash := common.Keccak256(code)
	d.Codes = append(d.Codes, CodeChange{Hash: hash, Code: bytes.Clone(code)})
	return hash
}

// Clone returns a copy of the diff whose change lists can be reordered
// without affecting the original.
func (d *StateDiff) Clone() *StateDiff {
	return &StateDiff{
		Accounts: slices.Clone(d.Accounts),
		Slots:    slices.Clone(d.Slots),
		Codes:    slices.Clone(d.Codes),
	}
}

// Normalize sorts all changes and removes exact duplicates. Conflicting
// changes of the same element are reported as an error.
func (d *StateDiff) Normalize() error {
	d.Accounts = common.SortUnique(d.Accounts, accountChangeLess, accountChangeEqual)
	d.Slots = common.SortUnique(d.Slots, slotChangeLess, slotChangeEqual)
	d.Codes = common.SortUnique(d.Codes, codeChangeLess, codeChangeEqual)
	return d.Check()
}

// Check verifies that all changes are unique and in order and that every
// piece of code matches its hash.
func (d *StateDiff) Check() error {
	if !common.IsSortedAndUnique(d.Accounts, accountChangeLess) {
		return fmt.Errorf("account changes are not in order or unique")
	}
	if !common.IsSortedAndUnique(d.Slots, slotChangeLess) {
		return fmt.Errorf("slot changes are not in order or unique")
	}
	if !common.IsSortedAndUnique(d.Codes, codeChangeLess) {
		return fmt.Errorf("code changes are not in order or unique")
	}
	for _, cur := range d.Codes {
		if got := common.Keccak256(cur.Code); got != cur.Hash {
			return fmt.Errorf("code of %d bytes has hash %v, declared %v", len(cur.Code), got, cur.Hash)
		}
	}
	return nil
}

func accountChangeLess(a, b *AccountChange) bool {
	return a.Address.Compare(&b.Address) < 0
}

func accountChangeEqual(a, b *AccountChange) bool {
	if a.Address != b.Address {
		return false
	}
	if a.Info == nil || b.Info == nil {
		return a.Info == b.Info
	}
	return *a.Info == *b.Info
}

func slotChangeLess(a, b *SlotChange) bool {
	c := a.Address.Compare(&b.Address)
	return c < 0 || (c == 0 && a.Key.Compare(&b.Key) < 0)
}

func slotChangeEqual(a, b *SlotChange) bool {
	return *a == *b
}

func codeChangeLess(a, b *CodeChange) bool {
	return a.Hash.Compare(&b.Hash) < 0
}

func codeChangeEqual(a, b *CodeChange) bool {
	return a.Hash == b.Hash && bytes.Equal(a.Code, b.Code)
}
