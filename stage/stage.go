// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package stage drives block execution on top of the execution state. For
// every block it opens the next height, executes the block against the
// state of its parent, writes the resulting changes, and commits them. In
// batch mode a range of blocks is executed on top of the state of the
// range's parent and the merged changes are committed with its last block.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/execution"
	"github.com/Fantom-foundation/adsexec/state"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// ErrNoGenesis is reported when blocks are executed on a state without
	// any committed height.
	ErrNoGenesis = common.ConstError("execution state has no genesis")
	// ErrGenesisExists is reported when a genesis is written twice.
	ErrGenesisExists = common.ConstError("execution state already initialized")
)

const (
	defaultFlushRetries = 3
	defaultRetryDelay   = 100 * time.Millisecond
	progressInterval    = 8 * time.Second
)

// BlockSource provides the blocks to be executed.
type BlockSource interface {
	// Block returns the block with the given number. The flag is false if
	// the block is not available (yet).
	Block(number uint64) (execution.BlockExecutionInput, bool, error)
}

// Stage executes blocks and commits their effects to the execution state.
type Stage struct {
	ctrl     *state.Controller
	provider execution.Provider[*state.Snapshot]
	source   BlockSource

	// Tip, if set, stops execution after the block with the given hash.
	Tip *common.Hash
	// FlushRetries is the number of times a failed commit is retried.
	FlushRetries int
	// RetryDelay is the pause between commit attempts.
	RetryDelay time.Duration

	// BatchSize, if positive, executes up to this many blocks with a single
	// batch executor. The merged changes of a batch are committed at the
	// height of its last block; the heights of the other blocks of the batch
	// only record their block hash. Zero executes and commits block by block.
	BatchSize int
	// MaxBatchChanges ends a batch early once the executor reports at least
	// this many pending changes. Zero disables the limit.
	MaxBatchChanges int
	// PruneModes is handed to batch executors.
	PruneModes execution.PruneModes
}

// Result summarizes a run of the stage.
type Result struct {
	// Executed is the number of blocks executed in the run.
	Executed int
	// Height is the last committed height.
	Height uint64
	// ReachedTip is true if the run stopped at the configured tip.
	ReachedTip bool
}

// New creates a stage executing the blocks of the given source with
// executors of the given provider.
func New(ctrl *state.Controller, provider execution.Provider[*state.Snapshot], source BlockSource) *Stage {
	return &Stage{
		ctrl:         ctrl,
		provider:     provider,
		source:       source,
		FlushRetries: defaultFlushRetries,
		RetryDelay:   defaultRetryDelay,
	}
}

// InitGenesis commits the given allocation at the configured start height
// of an empty execution state.
func (s *Stage) InitGenesis(alloc *state.StateDiff, hash common.Hash) error {
	if height, exists := s.ctrl.Height(); exists {
		return fmt.Errorf("%w: committed height is %d", ErrGenesisExists, height)
	}
	height := s.ctrl.NextHeight()
	if alloc == nil {
		alloc = &state.StateDiff{}
	}
	err := s.commit(context.Background(), height, nil, func(w *state.Writer) error {
		if err := w.WriteState(alloc); err != nil {
			return err
		}
		return w.WriteBlockHash(height, hash)
	})
	if err != nil {
		return fmt.Errorf("failed to write genesis: %w", err)
	}
	log.Info("Initialized execution state", "height", height, "hash", hash, "accounts", len(alloc.Accounts))
	return nil
}

// Run executes blocks until the source runs out of blocks, the tip is
// reached, or the context is canceled.
func (s *Stage) Run(ctx context.Context) (Result, error) {
	var res Result
	last, exists := s.ctrl.Height()
	if !exists {
		return res, ErrNoGenesis
	}
	res.Height = last

	tasks := ads.NewTaskManager()
	defer func() {
		if err := tasks.Wait(); err != nil {
			log.Warn("Background state maintenance failed", "err", err)
		}
	}()

	start := time.Now()
	lastLog := start
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var executed int
		var reachedTip bool
		var err error
		if s.BatchSize > 0 {
			executed, reachedTip, err = s.executeBatch(ctx, res.Height+1, tasks)
		} else {
			executed, reachedTip, err = s.executeNext(ctx, res.Height+1, tasks)
		}
		res.Height += uint64(executed)
		res.Executed += executed
		if err != nil {
			return res, err
		}
		if executed == 0 {
			break
		}

		if now := time.Now(); now.Sub(lastLog) >= progressInterval {
			log.Info("Executing blocks", "height", res.Height, "executed", res.Executed, "elapsed", now.Sub(start))
			lastLog = now
		}
		if reachedTip {
			res.ReachedTip = true
			log.Info("Reached target tip", "height", res.Height, "hash", *s.Tip)
			break
		}
	}
	log.Info("Block execution finished", "height", res.Height, "executed", res.Executed, "elapsed", time.Since(start))
	return res, nil
}

// fetch retrieves the block with the given number from the source.
func (s *Stage) fetch(number uint64) (execution.BlockExecutionInput, bool, error) {
	input, found, err := s.source.Block(number)
	if err != nil {
		return input, false, fmt.Errorf("failed to fetch block %d: %w", number, err)
	}
	if !found {
		return input, false, nil
	}
	if input.Block == nil || input.Block.Number != number {
		return input, false, fmt.Errorf("%w: source returned wrong block for number %d", execution.ErrInvalidInput, number)
	}
	return input, true, nil
}

func (s *Stage) isTip(input execution.BlockExecutionInput) bool {
	return s.Tip != nil && input.Block.Hash == *s.Tip
}

// executeNext executes and commits the given block on its own.
func (s *Stage) executeNext(ctx context.Context, number uint64, tasks ads.TaskManager) (int, bool, error) {
	input, found, err := s.fetch(number)
	if err != nil || !found {
		return 0, false, err
	}
	parent, err := s.ctrl.Snapshot(number - 1)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get state of block %d: %w", number-1, err)
	}
	output, err := s.provider.Executor(parent).Execute(input)
	if err != nil {
		return 0, false, fmt.Errorf("failed to execute block %d: %w", number, err)
	}
	err = s.commit(ctx, number, tasks, func(w *state.Writer) error {
		if err := w.WriteState(output.State); err != nil {
			return err
		}
		return w.WriteBlockHash(number, input.Block.Hash)
	})
	if err != nil {
		return 0, false, err
	}
	return 1, s.isTip(input), nil
}

// executeBatch executes up to BatchSize blocks starting at the given number
// with one batch executor and commits them. It returns the number of
// committed blocks.
func (s *Stage) executeBatch(ctx context.Context, first uint64, tasks ads.TaskManager) (int, bool, error) {
	var inputs []execution.BlockExecutionInput
	for len(inputs) < s.BatchSize {
		input, found, err := s.fetch(first + uint64(len(inputs)))
		if err != nil {
			return 0, false, err
		}
		if !found {
			break
		}
		inputs = append(inputs, input)
		if s.isTip(input) {
			break
		}
	}
	if len(inputs) == 0 {
		return 0, false, nil
	}

	parent, err := s.ctrl.Snapshot(first - 1)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get state of block %d: %w", first-1, err)
	}
	executor := s.provider.BatchExecutor(parent)
	executor.SetTip(inputs[len(inputs)-1].Block.Number)
	executor.SetPruneModes(s.PruneModes)
	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		if err := executor.ExecuteAndVerifyOne(input); err != nil {
			return 0, false, fmt.Errorf("failed to execute block %d: %w", input.Block.Number, err)
		}
		if size, known := executor.SizeHint(); known && s.MaxBatchChanges > 0 && size >= s.MaxBatchChanges {
			inputs = inputs[:i+1]
			break
		}
	}
	outcome, err := executor.Finalize()
	if err != nil {
		return 0, false, fmt.Errorf("failed to finalize blocks %d-%d: %w", first, first+uint64(len(inputs))-1, err)
	}
	if outcome == nil {
		return 0, false, fmt.Errorf("%w: no outcome for blocks starting at %d", execution.ErrInvalidOutcome, first)
	}
	blocks := make([]*execution.Block, len(inputs))
	for i, input := range inputs {
		blocks[i] = input.Block
	}
	if err := outcome.ValidateBlocks(blocks); err != nil {
		return 0, false, err
	}

	for i, input := range inputs {
		number, hash := input.Block.Number, input.Block.Hash
		last := i == len(inputs)-1
		err := s.commit(ctx, number, tasks, func(w *state.Writer) error {
			if last && outcome.Bundle != nil {
				if err := w.WriteState(outcome.Bundle); err != nil {
					return err
				}
			}
			return w.WriteBlockHash(number, hash)
		})
		if err != nil {
			return i, false, err
		}
	}
	log.Debug("Committed batch", "first", first, "last", blocks[len(blocks)-1].Number)
	return len(inputs), s.isTip(inputs[len(inputs)-1]), nil
}

// commit runs the given write operation in a new block at the given height
// and flushes it. Failed flushes are retried; any other failure aborts the
// block.
func (s *Stage) commit(ctx context.Context, height uint64, tasks ads.TaskManager, write func(*state.Writer) error) error {
	if err := s.ctrl.StartBlock(height, tasks); err != nil {
		return err
	}
	writer, err := s.ctrl.Writer()
	if err == nil {
		err = write(writer)
	}
	if err != nil {
		return errors.Join(err, s.ctrl.Abort())
	}

	for attempt := 0; ; attempt++ {
		err = s.ctrl.Flush()
		if err == nil {
			return nil
		}
		if !errors.Is(err, state.ErrCommit) || attempt >= s.FlushRetries {
			break
		}
		log.Warn("Retrying commit", "height", height, "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err(), s.ctrl.Abort())
		case <-time.After(s.RetryDelay):
		}
	}
	return errors.Join(err, s.ctrl.Abort())
}
