// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package execution

import (
	"fmt"

	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/common/amount"
	"github.com/Fantom-foundation/adsexec/state"
)

// Transaction is a native value transfer.
type Transaction struct {
	Nonce    uint64
	To       common.Address
	Value    amount.Amount
	Gas      uint64
	GasPrice amount.Amount
	Data     []byte
}

// Block is a block to be executed.
type Block struct {
	Number       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Coinbase     common.Address
	GasLimit     uint64
	GasUsed      uint64 // declared by the block producer, verified by batch execution
	Transactions []Transaction
}

// BlockExecutionInput is a block together with the recovered senders of
// its transactions.
type BlockExecutionInput struct {
	Block   *Block
	Senders []common.Address
}

func (i *BlockExecutionInput) validate() error {
	if i.Block == nil {
		return fmt.Errorf("%w: missing block", ErrInvalidInput)
	}
	if got, want := len(i.Senders), len(i.Block.Transactions); got != want {
		return fmt.Errorf("%w: block %d has %d transactions but %d senders", ErrInvalidInput, i.Block.Number, want, got)
	}
	return nil
}

// Receipt is the result of executing a single transaction.
type Receipt struct {
	Success           bool
	GasUsed           uint64
	CumulativeGasUsed uint64
}

// Request is an opaque request produced by block execution, for instance a
// validator deposit or withdrawal request.
type Request []byte

// BlockExecutionOutput is the result of executing a single block.
type BlockExecutionOutput struct {
	State    *state.StateDiff
	Receipts []*Receipt
	Requests []Request
	GasUsed  uint64
}

// ExecutionOutcome is the combined result of executing a range of blocks
// starting at FirstBlock. Receipts and Requests hold one entry per block;
// receipts hold one entry per transaction, nil for pruned receipts.
type ExecutionOutcome struct {
	Bundle     *state.StateDiff
	Receipts   [][]*Receipt
	Requests   [][]Request
	FirstBlock uint64
}

// NumBlocks is the number of blocks covered by the outcome.
func (o *ExecutionOutcome) NumBlocks() int {
	return len(o.Receipts)
}

// LastBlock is the number of the last block covered by a non-empty outcome.
func (o *ExecutionOutcome) LastBlock() uint64 {
	if len(o.Receipts) == 0 {
		return o.FirstBlock
	}
	return o.FirstBlock + uint64(len(o.Receipts)) - 1
}

// Validate checks that requests align with the blocks of the outcome.
// Outcomes without requests are accepted.
func (o *ExecutionOutcome) Validate() error {
	if o.Requests != nil && len(o.Requests) != len(o.Receipts) {
		return fmt.Errorf("%w: %d blocks of receipts but %d blocks of requests", ErrInvalidOutcome, len(o.Receipts), len(o.Requests))
	}
	return nil
}

// ValidateBlocks checks that the outcome covers exactly the given blocks,
// with one receipt slot per transaction.
func (o *ExecutionOutcome) ValidateBlocks(blocks []*Block) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if len(blocks) != len(o.Receipts) {
		return fmt.Errorf("%w: outcome covers %d blocks, expected %d", ErrInvalidOutcome, len(o.Receipts), len(blocks))
	}
	for i, block := range blocks {
		if want := o.FirstBlock + uint64(i); block.Number != want {
			return fmt.Errorf("%w: block at position %d has number %d, expected %d", ErrInvalidOutcome, i, block.Number, want)
		}
		if got, want := len(o.Receipts[i]), len(block.Transactions); got != want {
			return fmt.Errorf("%w: block %d has %d transactions but %d receipts", ErrInvalidOutcome, block.Number, want, got)
		}
	}
	return nil
}

// PruneMode describes which historic data to retain. Data of blocks more
// than Distance blocks below the tip is pruned.
type PruneMode struct {
	Distance uint64
}

// PruneModes configures pruning of the data accumulated by batch executors.
// A nil mode retains everything.
type PruneModes struct {
	Receipts *PruneMode
}

// shouldPruneReceipts is true if receipts of the given block are to be
// dropped for the given tip.
func (m PruneModes) shouldPruneReceipts(block uint64, tip uint64, hasTip bool) bool {
	if m.Receipts == nil || !hasTip || tip < m.Receipts.Distance {
		return false
	}
	return block < tip-m.Receipts.Distance
}
