// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ldb

import (
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	entryTable byte = 'E'
	rootTable  byte = 'R'
)

const heightSize = 8                 // height size (uint64)
const maxHeight = 0xFFFFFFFFFFFFFFFE // max height - must be less than the max value to fit into limit range
const maxKeyLength = 0xFFFF          // key length is stored as uint16

var limitHeight = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF} // max range value, must be greater than maxHeight

// entryKey is a key for versioned entries, it consists of
// * the table space
// * the hash of the entry key
// * the height, represented as an inverse value to sort from the highest height
type entryKey [1 + common.HashSize + heightSize]byte

func (k *entryKey) set(keyHash common.Hash, height uint64) {
	k[0] = entryTable
	copy(k[1:1+common.HashSize], keyHash[:])
	binary.BigEndian.PutUint64(k[1+common.HashSize:], maxHeight-height)
}

func (k *entryKey) height() uint64 {
	return maxHeight - binary.BigEndian.Uint64(k[1+common.HashSize:])
}

// getRange provides a key range for iterating versions of the entry from the
// given height down to the first height.
func (k *entryKey) getRange() util.Range {
	end := *k
	copy(end[1+common.HashSize:], limitHeight)
	return util.Range{Start: k[:], Limit: end[:]}
}

// rootKey is a key for the table of per-height commitments, it consists of
// * the table space
// * the height, represented as an inverse value to sort from the highest height
type rootKey [1 + heightSize]byte

func (k *rootKey) set(height uint64) {
	k[0] = rootTable
	binary.BigEndian.PutUint64(k[1:], maxHeight-height)
}

func (k *rootKey) get() uint64 {
	return maxHeight - binary.BigEndian.Uint64(k[1:])
}

// getRootKeyRangeFromHighest provides a key range for iterating roots from
// the highest height to the first.
func getRootKeyRangeFromHighest() util.Range {
	var start, end rootKey
	start.set(maxHeight)
	end[0] = rootTable
	copy(end[1:], limitHeight)
	return util.Range{Start: start[:], Limit: end[:]}
}

// entry values consist of
// * a status byte (1 for a live value, 0 for a tombstone)
// * the length of the key (uint16)
// * the key
// * the value (absent for tombstones)
func encodeEntryValue(entry ads.PendingEntry) ([]byte, error) {
	if len(entry.Key) > maxKeyLength {
		return nil, fmt.Errorf("key of %d bytes exceeds maximum of %d", len(entry.Key), maxKeyLength)
	}
	res := make([]byte, 0, 1+2+len(entry.Key)+len(entry.Value))
	if entry.Deleted {
		res = append(res, 0)
	} else {
		res = append(res, 1)
	}
	res = binary.BigEndian.AppendUint16(res, uint16(len(entry.Key)))
	res = append(res, entry.Key...)
	if !entry.Deleted {
		res = append(res, entry.Value...)
	}
	return res, nil
}

func decodeEntryValue(data []byte) (key []byte, value []byte, live bool, err error) {
	if len(data) < 3 {
		return nil, nil, false, fmt.Errorf("invalid entry encoding, %d bytes too short", len(data))
	}
	keyLength := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) < 3+keyLength {
		return nil, nil, false, fmt.Errorf("invalid entry encoding, truncated key")
	}
	return data[3 : 3+keyLength], data[3+keyLength:], data[0] != 0, nil
}
