// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ads

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/Fantom-foundation/adsexec/common"
	"golang.org/x/exp/maps"
)

// PendingEntry is a mutation recorded for the block being processed.
type PendingEntry struct {
	KeyHash common.Hash
	Key     []byte
	Value   []byte
	Deleted bool
}

// PendingBlock collects the mutations of a single height until they are
// flushed. Later mutations of a key replace earlier ones.
type PendingBlock struct {
	Height  uint64
	entries map[common.Hash]PendingEntry
}

func NewPendingBlock(height uint64) *PendingBlock {
	return &PendingBlock{
		Height:  height,
		entries: map[common.Hash]PendingEntry{},
	}
}

func (p *PendingBlock) Put(keyHash common.Hash, key []byte, value []byte) error {
	return p.set(PendingEntry{
		KeyHash: keyHash,
		Key:     bytes.Clone(key),
		Value:   bytes.Clone(value),
	})
}

func (p *PendingBlock) Delete(keyHash common.Hash, key []byte) error {
	return p.set(PendingEntry{
		KeyHash: keyHash,
		Key:     bytes.Clone(key),
		Deleted: true,
	})
}

func (p *PendingBlock) set(entry PendingEntry) error {
	if cur, found := p.entries[entry.KeyHash]; found && !bytes.Equal(cur.Key, entry.Key) {
		return fmt.Errorf("%w: keys %x and %x share hash %v", ErrKeyMismatch, cur.Key, entry.Key, entry.KeyHash)
	}
	p.entries[entry.KeyHash] = entry
	return nil
}

func (p *PendingBlock) Len() int {
	return len(p.entries)
}

// Entries lists the recorded mutations ordered by key hash.
func (p *PendingBlock) Entries() []PendingEntry {
	keys := maps.Keys(p.entries)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(&keys[j]) < 0 })
	res := make([]PendingEntry, 0, len(keys))
	for _, key := range keys {
		res = append(res, p.entries[key])
	}
	return res
}

// NextRoot extends the commitment chain by one block. The root of a block
// without mutations equals the root of its predecessor.
func NextRoot(prev common.Hash, height uint64, entries []PendingEntry) common.Hash {
	if len(entries) == 0 {
		return prev
	}
	hasher := sha256.New()
	hasher.Write(prev[:])
	hasher.Write(binary.BigEndian.AppendUint64(nil, height))
	for _, entry := range entries {
		hasher.Write(entry.KeyHash[:])
		if entry.Deleted {
			hasher.Write([]byte{0})
			continue
		}
		valueHash := sha256.Sum256(entry.Value)
		hasher.Write([]byte{1})
		hasher.Write(valueHash[:])
	}
	var res common.Hash
	copy(res[:], hasher.Sum(nil))
	return res
}
