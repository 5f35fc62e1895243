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
	"fmt"

	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/common/amount"
)

// AccountRecordSize is the size of an encoded AccountRecord.
const AccountRecordSize = 8 + amount.BytesLength + common.HashSize + common.HashSize

// MaxCodeSize is the maximum size of contract code that can be stored.
const MaxCodeSize = 24576

// AccountRecord is the persisted state of an account.
type AccountRecord struct {
	Nonce       uint64
	Balance     amount.Amount
	CodeHash    common.Hash
	StorageRoot common.Hash
}

// NewAccountRecord creates a record of an account without code.
func NewAccountRecord(nonce uint64, balance amount.Amount) *AccountRecord {
	return &AccountRecord{
		Nonce:    nonce,
		Balance:  balance,
		CodeHash: common.EmptyCodeHash,
	}
}

// IsEmpty is true for accounts without nonce, balance, and code.
func (a *AccountRecord) IsEmpty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && (a.CodeHash == common.EmptyCodeHash || a.CodeHash == common.Hash{})
}

func (a *AccountRecord) String() string {
	return fmt.Sprintf("{nonce: %d, balance: %v, code: %v}", a.Nonce, a.Balance, a.CodeHash)
}

// AccountRecordSerializer is a Serializer of the AccountRecord type.
type AccountRecordSerializer struct{}

func (AccountRecordSerializer) ToBytes(record AccountRecord) []byte {
	res := make([]byte, 0, AccountRecordSize)
	res = binary.BigEndian.AppendUint64(res, record.Nonce)
	balance := record.Balance.Bytes32()
	res = append(res, balance[:]...)
	res = append(res, record.CodeHash[:]...)
	res = append(res, record.StorageRoot[:]...)
	return res
}

func (AccountRecordSerializer) FromBytes(data []byte) (AccountRecord, error) {
	var res AccountRecord
	if len(data) != AccountRecordSize {
		return res, fmt.Errorf("invalid account record encoding of %d bytes, expected %d", len(data), AccountRecordSize)
	}
	res.Nonce = binary.BigEndian.Uint64(data[0:8])
	data = data[8:]
	res.Balance = amount.NewFromBytes(data[:amount.BytesLength]...)
	data = data[amount.BytesLength:]
	copy(res.CodeHash[:], data[:common.HashSize])
	copy(res.StorageRoot[:], data[common.HashSize:])
	return res, nil
}

func (AccountRecordSerializer) Size() int {
	return AccountRecordSize
}
