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
	"encoding/binary"

	"github.com/Fantom-foundation/adsexec/common"
)

// Keys of the store are the Keccak256 hash of a raw key consisting of a
// domain byte followed by the fixed-size identifier of the state element.
// Addresses are re-hashed rather than used directly to spread keys evenly
// and to keep the account, slot, code, and block hash domains disjoint. The
// fixed sizes make the (address, slot) concatenation unambiguous.
const (
	accountDomain   byte = 'a'
	slotDomain      byte = 's'
	codeDomain      byte = 'c'
	blockHashDomain byte = 'b'
)

// StateKey is the address of a state element in the store.
type StateKey struct {
	Hash common.Hash
	Raw  []byte
}

func newStateKey(raw []byte) StateKey {
	return StateKey{Hash: common.Keccak256(raw), Raw: raw}
}

// AccountKey addresses the record of an account.
func AccountKey(address common.Address) StateKey {
	raw := make([]byte, 0, 1+common.AddressSize)
	raw = append(raw, accountDomain)
	raw = append(raw, address[:]...)
	return newStateKey(raw)
}

// SlotKey addresses a storage slot of an account.
func SlotKey(address common.Address, slot common.Key) StateKey {
	raw := make([]byte, 0, 1+common.AddressSize+common.KeySize)
	raw = append(raw, slotDomain)
	raw = append(raw, address[:]...)
	raw = append(raw, slot[:]...)
	return newStateKey(raw)
}

// CodeKey addresses contract code by its hash.
func CodeKey(codeHash common.Hash) StateKey {
	raw := make([]byte, 0, 1+common.HashSize)
	raw = append(raw, codeDomain)
	raw = append(raw, codeHash[:]...)
	return newStateKey(raw)
}

// BlockHashKey addresses the hash of a block.
func BlockHashKey(number uint64) StateKey {
	raw := make([]byte, 0, 1+8)
	raw = append(raw, blockHashDomain)
	raw = binary.BigEndian.AppendUint64(raw, number)
	return newStateKey(raw)
}
