// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package execution defines the interface between the block processing
// pipeline and block execution engines. Engines read state through a
// state.Reader pinned at the parent of the executed block and report their
// effects as state diffs, receipts, and requests.
package execution

import "github.com/Fantom-foundation/adsexec/state"

// Executor executes a single block. It is single use: after the first
// execution any further call fails with ErrExecutorConsumed.
type Executor[R state.Reader] interface {
	// Reader returns the state the executor reads from.
	Reader() R

	// Execute runs the given block and returns its effects.
	Execute(input BlockExecutionInput) (*BlockExecutionOutput, error)

	// ExecuteWithStateWitness runs the given block like Execute and passes
	// the final execution state to the witness observer before returning.
	// The observer does not affect the returned output.
	ExecuteWithStateWitness(input BlockExecutionInput, witness func(*ExecutionState)) (*BlockExecutionOutput, error)
}

// BatchExecutor executes a sequence of consecutive blocks, accumulating
// their effects until Finalize is called.
type BatchExecutor[R state.Reader] interface {
	// Reader returns the state the executor reads from.
	Reader() R

	// ExecuteAndVerifyOne runs the next block and verifies the results
	// against the block's declarations.
	ExecuteAndVerifyOne(input BlockExecutionInput) error

	// SetTip informs the executor about the height of the chain's tip,
	// which is used for pruning decisions.
	SetTip(tip uint64)

	// SetPruneModes updates the pruning configuration. Accumulated state
	// is retained.
	SetPruneModes(modes PruneModes)

	// Finalize consumes the executor and returns the combined outcome of
	// all executed blocks.
	Finalize() (*ExecutionOutcome, error)

	// SizeHint estimates the number of accumulated state changes. The flag
	// is false if no estimate is available.
	SizeHint() (int, bool)
}

// Provider creates executors. Each call produces a fresh instance not
// sharing mutable state with previously created executors.
type Provider[R state.Reader] interface {
	Executor(reader R) Executor[R]
	BatchExecutor(reader R) BatchExecutor[R]
}
