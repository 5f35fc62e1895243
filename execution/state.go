// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package execution

import (
	"bytes"
	"fmt"

	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/state"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ExecutionState is the mutable state of an ongoing execution. It caches
// the values loaded from the underlying reader and records all
// modifications, which can be extracted as a reconciled state diff.
type ExecutionState struct {
	reader   state.Reader
	accounts map[common.Address]*accountEntry
	slots    map[slotId]*slotEntry
	codes    map[common.Hash][]byte
}

type accountEntry struct {
	original *state.AccountRecord
	current  *state.AccountRecord
}

type slotId struct {
	address common.Address
	key     common.Key
}

type slotEntry struct {
	original common.Value
	current  common.Value
}

// NewExecutionState creates an execution state on top of the given reader.
// A nil reader represents empty state.
func NewExecutionState(reader state.Reader) *ExecutionState {
	return &ExecutionState{
		reader:   reader,
		accounts: map[common.Address]*accountEntry{},
		slots:    map[slotId]*slotEntry{},
		codes:    map[common.Hash][]byte{},
	}
}

func (s *ExecutionState) account(address common.Address) (*accountEntry, error) {
	if entry, found := s.accounts[address]; found {
		return entry, nil
	}
	var original *state.AccountRecord
	if s.reader != nil {
		record, err := s.reader.Account(address)
		if err != nil {
			return nil, fmt.Errorf("failed to load account %v: %w", address, state.AsProviderError(err))
		}
		original = record
	}
	entry := &accountEntry{original: original, current: copyRecord(original)}
	s.accounts[address] = entry
	return entry, nil
}

// GetAccount returns a copy of the current record of the given account, nil
// if the account does not exist.
func (s *ExecutionState) GetAccount(address common.Address) (*state.AccountRecord, error) {
	entry, err := s.account(address)
	if err != nil {
		return nil, err
	}
	return copyRecord(entry.current), nil
}

// SetAccount updates the record of the given account. A nil record deletes
// the account.
func (s *ExecutionState) SetAccount(address common.Address, record *state.AccountRecord) error {
	entry, err := s.account(address)
	if err != nil {
		return err
	}
	entry.current = copyRecord(record)
	return nil
}

// GetStorage returns the current value of the given slot.
func (s *ExecutionState) GetStorage(address common.Address, key common.Key) (common.Value, error) {
	id := slotId{address, key}
	if entry, found := s.slots[id]; found {
		return entry.current, nil
	}
	var original common.Value
	if s.reader != nil {
		value, err := s.reader.Storage(address, key)
		if err != nil {
			return common.Value{}, fmt.Errorf("failed to load slot %v/%v: %w", address, key, state.AsProviderError(err))
		}
		original = value
	}
	s.slots[id] = &slotEntry{original: original, current: original}
	return original, nil
}

// SetStorage updates the value of the given slot.
func (s *ExecutionState) SetStorage(address common.Address, key common.Key, value common.Value) error {
	if _, err := s.GetStorage(address, key); err != nil {
		return err
	}
	s.slots[slotId{address, key}].current = value
	return nil
}

// GetCode resolves code by its hash.
func (s *ExecutionState) GetCode(codeHash common.Hash) ([]byte, error) {
	if code, found := s.codes[codeHash]; found {
		return code, nil
	}
	if codeHash == common.EmptyCodeHash || s.reader == nil {
		return nil, nil
	}
	code, err := s.reader.Code(codeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load code %v: %w", codeHash, state.AsProviderError(err))
	}
	return code, nil
}

// SetCode registers new code and returns its hash.
func (s *ExecutionState) SetCode(code []byte) common.Hash {
	hash := common.Keccak256(code)
	s.codes[hash] = bytes.Clone(code)
	return hash
}

// BlockHash resolves the hash of an ancestor block.
func (s *ExecutionState) BlockHash(number uint64) (common.Hash, error) {
	if s.reader == nil {
		return common.Hash{}, state.AsProviderError(fmt.Errorf("%w: hash of block %d", state.ErrNotFound, number))
	}
	hash, err := s.reader.BlockHash(number)
	if err != nil {
		return common.Hash{}, state.AsProviderError(err)
	}
	return hash, nil
}

// AccessedAccounts lists all accounts read or written so far, ordered by
// address.
func (s *ExecutionState) AccessedAccounts() []common.Address {
	res := maps.Keys(s.accounts)
	slices.SortFunc(res, func(a, b common.Address) int { return a.Compare(&b) })
	return res
}

// NumModifications is the number of accounts and slots differing from the
// underlying reader.
func (s *ExecutionState) NumModifications() int {
	count := 0
	for _, entry := range s.accounts {
		if !sameRecord(entry.original, entry.current) {
			count++
		}
	}
	for _, entry := range s.slots {
		if entry.original != entry.current {
			count++
		}
	}
	return count + len(s.codes)
}

// Diff summarizes all modifications relative to the underlying reader.
// Accounts left empty are reported as deleted.
func (s *ExecutionState) Diff() (*state.StateDiff, error) {
	diff := &state.StateDiff{}
	for address, entry := range s.accounts {
		if !sameRecord(entry.original, entry.current) {
			diff.AppendAccount(address, copyRecord(nonEmpty(entry.current)))
		}
	}
	for id, entry := range s.slots {
		if entry.original != entry.current {
			diff.AppendSlot(id.address, id.key, entry.current)
		}
	}
	for _, code := range s.codes {
		diff.AppendCode(code)
	}
	if err := diff.Normalize(); err != nil {
		return nil, err
	}
	return diff, nil
}

func copyRecord(record *state.AccountRecord) *state.AccountRecord {
	if record == nil {
		return nil
	}
	res := *record
	return &res
}

func nonEmpty(record *state.AccountRecord) *state.AccountRecord {
	if record == nil || record.IsEmpty() {
		return nil
	}
	return record
}

// sameRecord compares records treating empty accounts as absent.
func sameRecord(a, b *state.AccountRecord) bool {
	a, b = nonEmpty(a), nonEmpty(b)
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
