// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
	_ "github.com/mattn/go-sqlite3"
)

// Options are part of the connection string to apply them to all pooled
// connections. See https://github.com/mattn/go-sqlite3#connection-string
const kConnectionOptions = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

// SQLite integers are signed 64-bit values.
const maxHeight = 1<<63 - 1

const (
	kCreateEntryTable = "CREATE TABLE IF NOT EXISTS entry (key_hash BLOB, height INT, key BLOB, value BLOB, live INT, PRIMARY KEY (key_hash, height))"
	kAddEntryStmt     = "INSERT INTO entry(key_hash, height, key, value, live) VALUES (?,?,?,?,?)"
	kGetEntryStmt     = "SELECT key, value, live FROM entry WHERE key_hash = ? AND height <= ? ORDER BY height DESC LIMIT 1"

	kCreateRootTable    = "CREATE TABLE IF NOT EXISTS root (height INT PRIMARY KEY, hash BLOB)"
	kAddRootStmt        = "INSERT INTO root(height, hash) VALUES (?,?)"
	kGetRootStmt        = "SELECT hash FROM root WHERE height = ?"
	kGetLastRootStmt    = "SELECT height, hash FROM root ORDER BY height DESC LIMIT 1"
	kOptimizeStatements = "PRAGMA optimize"
)

// Store is an ads.Store keeping entries in a SQLite database. Every flush
// is a single transaction.
type Store struct {
	db          *sql.DB
	config      ads.Config
	lock        common.LockFile
	addEntry    *sql.Stmt
	getEntry    *sql.Stmt
	addRoot     *sql.Stmt
	getRoot     *sql.Stmt
	getLastRoot *sql.Stmt
	reader      *reader
	tasks       ads.TaskTracker
	pending     *ads.PendingBlock

	mu         sync.Mutex
	lastHeight uint64
	lastRoot   common.Hash
	hasLast    bool
	closed     bool
}

// Open opens or creates the SQLite store in the configured directory. The
// directory must have been prepared by ads.InitDir.
func Open(config ads.Config) (*Store, error) {
	config = config.WithDefaults()
	lock, err := common.CreateLockFile(config.LockPath())
	if err != nil {
		return nil, err
	}
	store, err := open(filepath.Join(config.Directory, "store.sqlite"), config)
	if err != nil {
		return nil, errors.Join(err, lock.Release())
	}
	store.lock = lock
	return store, nil
}

func open(file string, config ads.Config) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+file+kConnectionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite; %w", err)
	}
	store, err := newStore(db, config)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return store, nil
}

func newStore(db *sql.DB, config ads.Config) (*Store, error) {
	if _, err := db.Exec(kCreateEntryTable); err != nil {
		return nil, fmt.Errorf("failed to create entry table; %w", err)
	}
	if _, err := db.Exec(kCreateRootTable); err != nil {
		return nil, fmt.Errorf("failed to create root table; %w", err)
	}

	s := &Store{db: db, config: config}
	err := prepareStatements(db, []statement{
		{&s.addEntry, kAddEntryStmt},
		{&s.getEntry, kGetEntryStmt},
		{&s.addRoot, kAddRootStmt},
		{&s.getRoot, kGetRootStmt},
		{&s.getLastRoot, kGetLastRootStmt},
	})
	if err != nil {
		return nil, err
	}
	s.reader = &reader{getEntry: s.getEntry}

	var height uint64
	var root []byte
	err = s.getLastRoot.QueryRow().Scan(&height, &root)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Join(fmt.Errorf("failed to read last block; %w", err), s.closeStatements())
	}
	if err == nil {
		hash, err := common.HashFromBytes(root)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: root of height %d: %v", ads.ErrCorruptMetadata, height, err), s.closeStatements())
		}
		s.lastHeight, s.lastRoot, s.hasLast = height, hash, true
	}
	return s, nil
}

type statement struct {
	target **sql.Stmt
	query  string
}

// prepareStatements prepares all given statements or none: on failure the
// statements prepared so far are closed again.
func prepareStatements(db *sql.DB, statements []statement) error {
	for i, stmt := range statements {
		prepared, err := db.Prepare(stmt.query)
		if err != nil {
			errs := []error{fmt.Errorf("failed to prepare %s; %w", stmt.query, err)}
			for _, done := range statements[:i] {
				errs = append(errs, (*done.target).Close())
			}
			return errors.Join(errs...)
		}
		*stmt.target = prepared
	}
	return nil
}

func (s *Store) closeStatements() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.addEntry, s.getEntry, s.addRoot, s.getRoot, s.getLastRoot} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	return errors.Join(errs...)
}

func (s *Store) StartBlock(height uint64, tasks ads.TaskManager) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ads.ErrClosed
	}
	if s.pending != nil {
		return fmt.Errorf("%w: height %d is still open", ads.ErrBlockActive, s.pending.Height)
	}
	if height > maxHeight {
		return fmt.Errorf("%w: height %d exceeds maximum", ads.ErrHeightOrder, height)
	}
	if s.hasLast && height <= s.lastHeight {
		return fmt.Errorf("%w: height %d is not above last flushed height %d", ads.ErrHeightOrder, height, s.lastHeight)
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

func (s *Store) Flush() (err error) {
	if s.pending == nil {
		return ads.ErrNoActiveBlock
	}
	height := s.pending.Height
	entries := s.pending.Entries()
	s.mu.Lock()
	root := ads.NextRoot(s.lastRoot, height, entries)
	s.mu.Unlock()

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for block %d: %w", height, err)
	}
	var succeed bool
	defer func() {
		if !succeed {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	addEntry := tx.Stmt(s.addEntry)
	for _, entry := range entries {
		value := entry.Value
		if entry.Deleted {
			value = nil
		}
		if _, err := addEntry.Exec(entry.KeyHash[:], int64(height), entry.Key, value, !entry.Deleted); err != nil {
			return fmt.Errorf("failed to add entry %v of block %d: %w", entry.KeyHash, height, err)
		}
	}
	if _, err := tx.Stmt(s.addRoot).Exec(int64(height), root[:]); err != nil {
		return fmt.Errorf("failed to add root of block %d: %w", height, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", height, err)
	}
	succeed = true

	s.mu.Lock()
	s.lastHeight, s.lastRoot, s.hasLast = height, root, true
	s.mu.Unlock()
	s.pending = nil

	if interval := s.config.CompactionInterval; interval > 0 && height%interval == 0 {
		if tasks := s.tasks.Current(); tasks != nil {
			tasks.Go(func() error {
				_, err := s.db.Exec(kOptimizeStatements)
				return err
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeight, s.hasLast, nil
}

func (s *Store) RootHash(height uint64) (common.Hash, error) {
	var root []byte
	err := s.getRoot.QueryRow(int64(height)).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, fmt.Errorf("%w: %d", ads.ErrUnknownHeight, height)
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.HashFromBytes(root)
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.pending = nil

	errs := []error{s.tasks.WaitAll(), s.closeStatements(), s.db.Close()}
	if s.lock != nil {
		errs = append(errs, s.lock.Release())
	}
	return errors.Join(errs...)
}

type reader struct {
	getEntry *sql.Stmt
}

func (r *reader) ReadEntry(height uint64, keyHash common.Hash, key []byte, buf []byte) (int, bool, error) {
	if height > maxHeight {
		height = maxHeight
	}
	var storedKey, value []byte
	var live bool
	err := r.getEntry.QueryRow(keyHash[:], int64(height)).Scan(&storedKey, &value, &live)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
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
