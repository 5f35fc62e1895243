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
	"bytes"
	"encoding/hex"
	"fmt"
)

const (
	AddressSize = 20
	HashSize    = 32
	KeySize     = 32
	ValueSize   = 32
)

// Address is the 20-byte identifier of an account.
type Address [AddressSize]byte

// Hash is a 32-byte digest, used for content hashes and ADS keys.
type Hash [HashSize]byte

// Key addresses a storage slot within an account.
type Key [KeySize]byte

// Value is the content of a storage slot.
type Value [ValueSize]byte

func (a *Address) Compare(b *Address) int {
	return bytes.Compare(a[:], b[:])
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (h *Hash) Compare(b *Hash) int {
	return bytes.Compare(h[:], b[:])
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (k *Key) Compare(b *Key) int {
	return bytes.Compare(k[:], b[:])
}

func (k Key) String() string {
	return "0x" + hex.EncodeToString(k[:])
}

func (v Value) IsZero() bool {
	return v == Value{}
}

func (v Value) String() string {
	return "0x" + hex.EncodeToString(v[:])
}

// AddressFromBytes copies the given bytes into an address. The input must be
// exactly AddressSize bytes long.
func AddressFromBytes(data []byte) (Address, error) {
	var res Address
	if len(data) != AddressSize {
		return res, fmt.Errorf("invalid address length %d, expected %d", len(data), AddressSize)
	}
	copy(res[:], data)
	return res, nil
}

// HashFromBytes copies the given bytes into a hash. The input must be
// exactly HashSize bytes long.
func HashFromBytes(data []byte) (Hash, error) {
	var res Hash
	if len(data) != HashSize {
		return res, fmt.Errorf("invalid hash length %d, expected %d", len(data), HashSize)
	}
	copy(res[:], data)
	return res, nil
}

// KeyFromUint64 creates a slot key with the given number in its least
// significant bytes.
func KeyFromUint64(i uint64) Key {
	var res Key
	for j := 0; j < 8; j++ {
		res[KeySize-1-j] = byte(i >> (8 * j))
	}
	return res
}
