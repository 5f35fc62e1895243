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
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is the subset of the LevelDB API used by the store.
type LevelDB interface {
	// Get gets the value for the given key. It returns ErrNotFound if the
	// DB does not contain the key.
	Get(key []byte, ro *opt.ReadOptions) (value []byte, err error)

	// NewIterator returns an iterator for the latest snapshot of the
	// underlying DB, restricted to the given range.
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator

	// Write applies the given batch atomically.
	Write(batch *leveldb.Batch, wo *opt.WriteOptions) error

	// CompactRange compacts the underlying DB for the given key range.
	CompactRange(r util.Range) error

	Close() error
}

// Store is an ads.Store keeping entries in LevelDB. Each version of an entry
// is a separate LevelDB key ordered from the highest to the lowest height,
// so a lookup at a height is a single seek.
type Store struct {
	db      LevelDB
	config  ads.Config
	lock    common.LockFile
	reader  *reader
	tasks   ads.TaskTracker
	pending *ads.PendingBlock
	last    lastBlockCache
	closed  bool
}

// Open opens or creates the LevelDB store in the configured directory. The
// directory must have been prepared by ads.InitDir.
func Open(config ads.Config) (*Store, error) {
	config = config.WithDefaults()
	lock, err := common.CreateLockFile(config.LockPath())
	if err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(filepath.Join(config.Directory, "leveldb"), nil)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open LevelDB: %w", err), lock.Release())
	}
	store, err := NewStore(db, config)
	if err != nil {
		return nil, errors.Join(err, db.Close(), lock.Release())
	}
	store.lock = lock
	return store, nil
}

// NewStore creates a store on top of an already opened database.
func NewStore(db LevelDB, config ads.Config) (*Store, error) {
	s := &Store{
		db:     db,
		config: config,
		reader: &reader{db: db},
	}
	height, root, exists, err := s.readLastBlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read last block: %w", err)
	}
	if exists {
		s.last.set(height, root)
	}
	return s, nil
}

func (s *Store) StartBlock(height uint64, tasks ads.TaskManager) error {
	if s.closed {
		return ads.ErrClosed
	}
	if s.pending != nil {
		return fmt.Errorf("%w: height %d is still open", ads.ErrBlockActive, s.pending.Height)
	}
	if height > maxHeight {
		return fmt.Errorf("%w: height %d exceeds maximum %d", ads.ErrHeightOrder, height, uint64(maxHeight))
	}
	if last, _, exists := s.last.get(); exists && height <= last {
		return fmt.Errorf("%w: height %d is not above last flushed height %d", ads.ErrHeightOrder, height, last)
	}
	s.tasks.Use(tasks)
	s.pending = ads.NewPendingBlock(height)
	return nil
}

func (s *Store) Put(keyHash common.Hash, key []byte, value []byte) error {
	if s.pending == nil {
		return ads.ErrNoActiveBlock
	}
	return s.pending.Put(keyHash, key, value)
}

func (s *Store) Delete(keyHash common.Hash, key []byte) error {
	if s.pending == nil {
		return ads.ErrNoActiveBlock
	}
	return s.pending.Delete(keyHash, key)
}

func (s *Store) Flush() error {
	if s.pending == nil {
		return ads.ErrNoActiveBlock
	}
	height := s.pending.Height
	entries := s.pending.Entries()
	_, lastRoot, _ := s.last.get()
	root := ads.NextRoot(lastRoot, height, entries)

	batch := new(leveldb.Batch)
	for _, entry := range entries {
		value, err := encodeEntryValue(entry)
		if err != nil {
			return err
		}
		var key entryKey
		key.set(entry.KeyHash, height)
		batch.Put(key[:], value)
	}
	var rootK rootKey
	rootK.set(height)
	batch.Put(rootK[:], root[:])

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write block %d: %w", height, err)
	}
	s.last.set(height, root)
	s.pending = nil

	if interval := s.config.CompactionInterval; interval > 0 && height%interval == 0 {
		if tasks := s.tasks.Current(); tasks != nil {
			tasks.Go(func() error {
				return s.db.CompactRange(util.Range{})
			})
		}
	}
	return nil
}

func (s *Store) Abort() {
	s.pending = nil
}

func (s *Store) SharedReader() ads.Reader {
	return s.reader
}

func (s *Store) LastHeight() (uint64, bool, error) {
	height, _, exists := s.last.get()
	return height, exists, nil
}

func (s *Store) RootHash(height uint64) (common.Hash, error) {
	var key rootKey
	key.set(height)
	data, err := s.db.Get(key[:], nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return common.Hash{}, fmt.Errorf("%w: %d", ads.ErrUnknownHeight, height)
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.HashFromBytes(data)
}

func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	errs := []error{s.tasks.WaitAll(), s.db.Close()}
	if s.lock != nil {
		errs = append(errs, s.lock.Release())
	}
	return errors.Join(errs...)
}

// readLastBlock locates the highest flushed height and its root.
func (s *Store) readLastBlock() (height uint64, root common.Hash, exists bool, err error) {
	keyRange := getRootKeyRangeFromHighest()
	it := s.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if it.Next() {
		var key rootKey
		copy(key[:], it.Key())
		copy(root[:], it.Value())
		return key.get(), root, true, nil
	}
	return 0, common.Hash{}, false, it.Error()
}

type reader struct {
	db LevelDB
}

func (r *reader) ReadEntry(height uint64, keyHash common.Hash, key []byte, buf []byte) (int, bool, error) {
	var k entryKey
	k.set(keyHash, height)
	keyRange := k.getRange()
	it := r.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if !it.Next() {
		return 0, false, it.Error()
	}
	storedKey, value, live, err := decodeEntryValue(it.Value())
	if err != nil {
		return 0, false, err
	}
	if !bytes.Equal(storedKey, key) {
		return 0, false, fmt.Errorf("%w: expected %x, found %x", ads.ErrKeyMismatch, key, storedKey)
	}
	if !live {
		return 0, false, nil
	}
	if len(value) > len(buf) {
		return 0, false, fmt.Errorf("%w: entry has %d bytes, buffer %d", ads.ErrBufferTooSmall, len(value), len(buf))
	}
	return copy(buf, value), true, nil
}

// lastBlockCache caches info about the last flushed block.
type lastBlockCache struct {
	mu     sync.Mutex
	height uint64
	root   common.Hash
	exists bool
}

func (c *lastBlockCache) set(height uint64, root common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = height
	c.root = root
	c.exists = true
}

func (c *lastBlockCache) get() (height uint64, root common.Hash, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, c.root, c.exists
}
