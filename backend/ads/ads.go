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

//go:generate mockgen -source ads.go -destination ads_mocks.go -package ads

import (
	"github.com/Fantom-foundation/adsexec/common"
)

// A Store is a versioned, authenticated key/value store. Entries are
// addressed by the hash of their key and versioned by block height. All
// mutations of one height are buffered until Flush, which commits them
// atomically and extends the store's commitment chain by one element.
//
// A Store has a single owner issuing StartBlock, Put, Delete, and Flush
// calls. Concurrent lookups are performed through the Reader obtained by
// SharedReader.
type Store interface {
	// StartBlock begins collecting mutations for the given height. The
	// height must exceed the last flushed height. The task manager is used
	// to run background maintenance triggered by subsequent flushes.
	StartBlock(height uint64, tasks TaskManager) error

	// Put records a new version of the entry with the given key at the
	// height of the current block.
	Put(keyHash common.Hash, key []byte, value []byte) error

	// Delete records a tombstone for the entry with the given key at the
	// height of the current block. Versions at lower heights stay readable.
	Delete(keyHash common.Hash, key []byte) error

	// Flush durably commits all mutations of the current block. On failure
	// no mutation is committed and the block stays open, so Flush may be
	// retried.
	Flush() error

	// Abort drops all mutations of the current block.
	Abort()

	// SharedReader provides a handle for concurrent lookups. The handle
	// remains valid until the store is closed.
	SharedReader() Reader

	// LastHeight returns the last flushed height. The flag is false if no
	// block was flushed so far.
	LastHeight() (height uint64, exists bool, err error)

	// RootHash returns the commitment of the store at the given flushed
	// height.
	RootHash(height uint64) (common.Hash, error)

	// Close waits for pending background tasks and releases all resources.
	Close() error
}

// A Reader answers height-scoped lookups. It is safe for concurrent use.
type Reader interface {
	// ReadEntry locates the latest version of the entry with the given key
	// at or below the given height and copies its value into buf. It
	// returns the number of bytes written and whether a live version was
	// found. A tombstone is reported as not found. A value exceeding buf
	// results in ErrBufferTooSmall, a stored key differing from the given
	// key in ErrKeyMismatch.
	ReadEntry(height uint64, keyHash common.Hash, key []byte, buf []byte) (n int, found bool, err error)
}

const (
	ErrBufferTooSmall      = common.ConstError("buffer too small for entry")
	ErrKeyMismatch         = common.ConstError("stored key does not match key hash")
	ErrHeightOrder         = common.ConstError("height out of order")
	ErrNoActiveBlock       = common.ConstError("no active block")
	ErrBlockActive         = common.ConstError("block already active")
	ErrClosed              = common.ConstError("store closed")
	ErrIncompatibleVersion = common.ConstError("incompatible store version")
	ErrCorruptMetadata     = common.ConstError("corrupt store metadata")
	ErrUnknownHeight       = common.ConstError("unknown height")
)
