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

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
)

// Snapshot is a Reader answering all lookups with the state at the end of
// a fixed block height. Snapshots share the underlying read handle and may
// be used concurrently with each other and with the processing of later
// blocks.
type Snapshot struct {
	reader ads.Reader
	height uint64
	window uint64
	codes  *codeCache // nil if snapshots do not share a cache
}

// codeCache holds recently read contracts together with the lowest height
// they were observed at. Codes are never removed from the state, so a
// cached code is visible to every snapshot at or above that height.
type codeCache = common.LruCache[common.Hash, cachedCode]

type cachedCode struct {
	code   []byte
	height uint64
}

// NewSnapshot creates a snapshot pinned at the given height. A window of
// zero selects DefaultBlockHashWindow.
func NewSnapshot(reader ads.Reader, height uint64, window uint64) *Snapshot {
	if window == 0 {
		window = DefaultBlockHashWindow
	}
	return &Snapshot{reader: reader, height: height, window: window}
}

// Height is the block height the snapshot is pinned at.
func (s *Snapshot) Height() uint64 {
	return s.height
}

func (s *Snapshot) Account(address common.Address) (*AccountRecord, error) {
	defaultMetrics().reads.WithLabelValues("account").Inc()
	var buffer [AccountRecordSize]byte
	data, found, err := s.read(AccountKey(address), buffer[:])
	if err != nil || !found {
		return nil, err
	}
	record, err := AccountRecordSerializer{}.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: account %v at height %d: %w", ErrRead, address, s.height, err)
	}
	return &record, nil
}

func (s *Snapshot) Code(codeHash common.Hash) ([]byte, error) {
	defaultMetrics().reads.WithLabelValues("code").Inc()
	if codeHash == common.EmptyCodeHash {
		return []byte{}, nil
	}
	if s.codes != nil {
		if entry, found := s.codes.Get(codeHash); found && entry.height <= s.height {
			defaultMetrics().codeCacheHits.Inc()
			return bytes.Clone(entry.code), nil
		}
	}
	buffer := make([]byte, MaxCodeSize)
	data, found, err := s.read(CodeKey(codeHash), buffer)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: code %v at height %d", ErrNotFound, codeHash, s.height)
	}
	if got := common.Keccak256(data); got != codeHash {
		return nil, fmt.Errorf("%w: code %v has hash %v", ErrRead, codeHash, got)
	}
	code := bytes.Clone(data)
	if s.codes != nil {
		if entry, found := s.codes.Get(codeHash); !found || entry.height > s.height {
			s.codes.Set(codeHash, cachedCode{code: code, height: s.height})
		}
	}
	return bytes.Clone(code), nil
}

func (s *Snapshot) Storage(address common.Address, slot common.Key) (common.Value, error) {
	defaultMetrics().reads.WithLabelValues("storage").Inc()
	var res common.Value
	data, found, err := s.read(SlotKey(address, slot), res[:])
	if err != nil || !found {
		return common.Value{}, err
	}
	if len(data) != common.ValueSize {
		return common.Value{}, fmt.Errorf("%w: slot %v/%v has %d bytes", ErrRead, address, slot, len(data))
	}
	return res, nil
}

func (s *Snapshot) BlockHash(number uint64) (common.Hash, error) {
	defaultMetrics().reads.WithLabelValues("block_hash").Inc()
	if number > s.height || s.height-number >= s.window {
		return common.Hash{}, fmt.Errorf("%w: hash of block %d outside of window at height %d", ErrNotFound, number, s.height)
	}
	var res common.Hash
	data, found, err := s.read(BlockHashKey(number), res[:])
	if err != nil {
		return common.Hash{}, err
	}
	if !found {
		return common.Hash{}, fmt.Errorf("%w: hash of block %d", ErrNotFound, number)
	}
	if len(data) != common.HashSize {
		return common.Hash{}, fmt.Errorf("%w: hash of block %d has %d bytes", ErrRead, number, len(data))
	}
	return res, nil
}

// read looks up the given key and returns the part of the buffer filled
// with its value.
func (s *Snapshot) read(key StateKey, buffer []byte) ([]byte, bool, error) {
	n, found, err := s.reader.ReadEntry(s.height, key.Hash, key.Raw, buffer)
	if err != nil {
		return nil, false, fmt.Errorf("%w: entry %v at height %d: %w", ErrRead, key.Hash, s.height, err)
	}
	return buffer[:n], found, nil
}
