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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/backend/ads/ldb"
	"github.com/Fantom-foundation/adsexec/backend/ads/sqlite"
	"github.com/Fantom-foundation/adsexec/common"
	"github.com/ethereum/go-ethereum/log"
)

type phase int

const (
	phaseReady phase = iota
	phaseActive
	phaseFlushing
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseReady:
		return "ready"
	case phaseActive:
		return "active"
	case phaseFlushing:
		return "flushing"
	case phaseClosed:
		return "closed"
	}
	return "unknown"
}

// Controller owns the store of the execution state and governs the block
// lifecycle on it: StartBlock opens a height, writers buffer changes for it,
// and Flush commits them atomically. Heights are strictly sequential.
//
// A controller has a single owner driving the lifecycle. Snapshots and the
// shared reader may be used concurrently by other goroutines.
type Controller struct {
	config  Config
	store   ads.Store
	reader  ads.Reader
	codes   *codeCache
	metrics *controllerMetrics

	mu      sync.Mutex
	phase   phase
	active  uint64 // height of the open block, if any
	epoch   uint64 // incremented for every started block
	last    uint64
	hasLast bool
}

// OpenController prepares the configured directory and opens the store in
// it. Any problem with the directory is reported as ErrInitialization.
func OpenController(config Config) (*Controller, error) {
	config = config.WithDefaults()
	storeConfig := config.storeConfig()
	if err := ads.InitDir(storeConfig); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	var store ads.Store
	var err error
	switch config.Backend {
	case ads.LevelDB:
		store, err = ldb.Open(storeConfig)
	case ads.SQLite:
		store, err = sqlite.Open(storeConfig)
	default:
		err = fmt.Errorf("unsupported backend %q", config.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	ctrl, err := NewController(store, config)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	log.Info("Opened execution state", "dir", config.Directory, "backend", config.Backend, "height", ctrl.describeHeight())
	return ctrl, nil
}

// NewController creates a controller on top of an opened store. The
// controller takes ownership of the store.
func NewController(store ads.Store, config Config) (*Controller, error) {
	config = config.WithDefaults()
	last, hasLast, err := store.LastHeight()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read last height: %w", ErrInitialization, err)
	}
	return &Controller{
		config:  config,
		store:   store,
		reader:  store.SharedReader(),
		codes:   common.NewLruCache[common.Hash, cachedCode](config.CodeCacheSize),
		metrics: defaultMetrics(),
		last:    last,
		hasLast: hasLast,
	}, nil
}

// Config returns the effective configuration of the controller.
func (c *Controller) Config() Config {
	return c.config
}

// NextHeight returns the height expected by the next StartBlock call.
func (c *Controller) NextHeight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextHeight()
}

func (c *Controller) nextHeight() uint64 {
	if !c.hasLast {
		return c.config.StartHeight
	}
	return c.last + 1
}

// StartBlock opens the given height for writing. The height must directly
// follow the last flushed height, or equal the configured start height on
// an empty store. A nil task manager selects a default one.
func (c *Controller) StartBlock(height uint64, tasks ads.TaskManager) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseReady {
		return fmt.Errorf("%w: can not start block %d while %v", ErrSequence, height, c.phase)
	}
	if want := c.nextHeight(); height != want {
		return fmt.Errorf("%w: can not start block %d, expected %d", ErrSequence, height, want)
	}
	if err := c.store.StartBlock(height, tasks); err != nil {
		return fmt.Errorf("failed to start block %d: %w", height, err)
	}
	c.phase = phaseActive
	c.active = height
	c.epoch++
	return nil
}

// Writer returns a writer adding changes to the open block. The writer is
// invalidated by the next Flush or Abort.
func (c *Controller) Writer() (*Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseActive {
		return nil, fmt.Errorf("%w: no active block", ErrSequence)
	}
	return &Writer{ctrl: c, height: c.active, epoch: c.epoch}, nil
}

// Flush commits all changes of the open block. On failure the block stays
// open with all its changes so that Flush can be retried.
func (c *Controller) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseActive {
		return fmt.Errorf("%w: no active block to flush", ErrSequence)
	}
	c.phase = phaseFlushing
	start := time.Now()
	if err := c.store.Flush(); err != nil {
		c.phase = phaseActive
		c.metrics.flushFailures.Inc()
		log.Warn("Failed to commit block", "height", c.active, "err", err)
		return fmt.Errorf("%w: block %d: %w", ErrCommit, c.active, err)
	}
	c.metrics.flushDuration.Observe(time.Since(start).Seconds())
	c.metrics.flushes.Inc()
	c.metrics.height.Set(float64(c.active))
	c.last = c.active
	c.hasLast = true
	c.phase = phaseReady
	log.Debug("Committed block", "height", c.last, "elapsed", time.Since(start))
	return nil
}

// Abort drops all changes of the open block.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseActive {
		return fmt.Errorf("%w: no active block to abort", ErrSequence)
	}
	c.store.Abort()
	c.metrics.aborts.Inc()
	c.phase = phaseReady
	log.Debug("Aborted block", "height", c.active)
	return nil
}

// Height returns the last flushed height and whether any block was flushed.
func (c *Controller) Height() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

// SharedReader returns the read handle of the store. It is valid until the
// controller is closed and may be used concurrently.
func (c *Controller) SharedReader() ads.Reader {
	return c.reader
}

// Snapshot creates a reader of the state at the end of the given flushed
// height.
func (c *Controller) Snapshot(height uint64) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return nil, fmt.Errorf("%w: controller closed", ErrSequence)
	}
	if !c.hasLast || height > c.last {
		return nil, fmt.Errorf("%w: height %d not flushed, last is %s", ErrSequence, height, c.describeHeightLocked())
	}
	snapshot := NewSnapshot(c.reader, height, c.config.BlockHashWindow)
	snapshot.codes = c.codes
	return snapshot, nil
}

// RootHash returns the commitment of the state at a flushed height.
func (c *Controller) RootHash(height uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return common.Hash{}, fmt.Errorf("%w: controller closed", ErrSequence)
	}
	if !c.hasLast || height > c.last {
		return common.Hash{}, fmt.Errorf("%w: height %d not flushed", ErrSequence, height)
	}
	hash, err := c.store.RootHash(height)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: root of height %d: %w", ErrRead, height, err)
	}
	return hash, nil
}

// Close aborts an open block, waits for background tasks, and releases the
// store. Closing a closed controller is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return nil
	}
	if c.phase == phaseActive {
		log.Warn("Closing state with open block, dropping its changes", "height", c.active)
		c.store.Abort()
	}
	c.phase = phaseClosed
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	log.Info("Closed execution state", "dir", c.config.Directory, "height", c.describeHeightLocked())
	return nil
}

func (c *Controller) describeHeight() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describeHeightLocked()
}

func (c *Controller) describeHeightLocked() string {
	if !c.hasLast {
		return "none"
	}
	return fmt.Sprintf("%d", c.last)
}

// put and remove forward mutations of a writer to the store as long as the
// writer's block is still open.
func (c *Controller) put(epoch uint64, key StateKey, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkEpoch(epoch); err != nil {
		return err
	}
	return c.store.Put(key.Hash, key.Raw, value)
}

func (c *Controller) remove(epoch uint64, key StateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkEpoch(epoch); err != nil {
		return err
	}
	return c.store.Delete(key.Hash, key.Raw)
}

func (c *Controller) checkEpoch(epoch uint64) error {
	if c.phase != phaseActive || c.epoch != epoch {
		return fmt.Errorf("%w: writer used after its block ended", ErrSequence)
	}
	return nil
}
