// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package amount

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// BytesLength is the length of the byte representation of an amount.
const BytesLength = 32

// Amount is a 256-bit unsigned integer used for balances and fees.
type Amount struct {
	internal uint256.Int
}

// New creates an amount from up to 4 uint64 words given in big-endian
// order. No argument results in zero.
func New(args ...uint64) Amount {
	if len(args) > 4 {
		panic("too many arguments")
	}
	result := Amount{}
	offset := 4 - len(args)
	for i := 0; i < len(args); i++ {
		result.internal[3-i-offset] = args[i]
	}
	return result
}

// NewFromBytes creates an amount from up to 32 big-endian bytes.
func NewFromBytes(bytes ...byte) Amount {
	if len(bytes) > BytesLength {
		panic("too many arguments")
	}
	result := Amount{}
	result.internal.SetBytes(bytes)
	return result
}

// NewFromBigInt converts a non-negative big.Int of at most 256 bits.
func NewFromBigInt(b *big.Int) (Amount, error) {
	if b == nil {
		return New(), nil
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("cannot construct amount from negative value %v", b)
	}
	result := Amount{}
	if overflow := result.internal.SetFromBig(b); overflow {
		return Amount{}, fmt.Errorf("value %v exceeds 256 bits", b)
	}
	return result, nil
}

func (a Amount) IsZero() bool {
	return a.internal.IsZero()
}

func (a Amount) ToBig() *big.Int {
	return a.internal.ToBig()
}

func (a Amount) String() string {
	return a.internal.Dec()
}

// Bytes32 returns the big-endian 32-byte encoding of the amount.
func (a Amount) Bytes32() [BytesLength]byte {
	return a.internal.Bytes32()
}

// Cmp returns -1, 0, or 1 if a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.internal.Cmp(&b.internal)
}

// AddOverflow returns a+b and whether the addition overflowed.
func AddOverflow(a, b Amount) (Amount, bool) {
	result := Amount{}
	_, overflow := result.internal.AddOverflow(&a.internal, &b.internal)
	return result, overflow
}

// SubUnderflow returns a-b and whether the subtraction underflowed.
func SubUnderflow(a, b Amount) (Amount, bool) {
	result := Amount{}
	_, underflow := result.internal.SubOverflow(&a.internal, &b.internal)
	return result, underflow
}

// MulOverflow returns a*b and whether the multiplication overflowed.
func MulOverflow(a, b Amount) (Amount, bool) {
	result := Amount{}
	_, overflow := result.internal.MulOverflow(&a.internal, &b.internal)
	return result, overflow
}
