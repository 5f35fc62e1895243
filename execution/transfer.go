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
	"github.com/ethereum/go-ethereum/log"
)

const (
	// TxGas is the intrinsic gas of every transaction.
	TxGas uint64 = 21000
	// TxDataZeroGas is the gas charged per zero byte of transaction data.
	TxDataZeroGas uint64 = 4
	// TxDataNonZeroGas is the gas charged per non-zero byte of transaction
	// data.
	TxDataNonZeroGas uint64 = 16
)

// TransferConfig parameterizes the transfer engine.
type TransferConfig struct {
	// BlockReward is credited to the coinbase of every block.
	BlockReward amount.Amount
}

// TransferProvider creates executors processing native value transfers:
// nonces and balances are checked, gas is charged at the intrinsic rate,
// fees and the block reward are credited to the coinbase.
type TransferProvider[R state.Reader] struct {
	config TransferConfig
}

// NewTransferProvider creates a provider of transfer executors.
func NewTransferProvider[R state.Reader](config TransferConfig) *TransferProvider[R] {
	return &TransferProvider[R]{config: config}
}

func (p *TransferProvider[R]) Executor(reader R) Executor[R] {
	return &transferExecutor[R]{
		reader: reader,
		engine: transferEngine{config: p.config},
	}
}

func (p *TransferProvider[R]) BatchExecutor(reader R) BatchExecutor[R] {
	return &transferBatchExecutor[R]{
		reader: reader,
		engine: transferEngine{config: p.config},
		state:  NewExecutionState(reader),
	}
}

// IntrinsicGas computes the gas charged for a transaction with the given
// data before execution.
func IntrinsicGas(data []byte) uint64 {
	gas := TxGas
	for _, b := range data {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += TxDataNonZeroGas
		}
	}
	return gas
}

type transferEngine struct {
	config TransferConfig
}

// run executes the given block on top of the given state. On error the
// state may be partially modified.
func (e transferEngine) run(input BlockExecutionInput, s *ExecutionState) ([]*Receipt, uint64, error) {
	if err := input.validate(); err != nil {
		return nil, 0, err
	}
	block := input.Block
	receipts := make([]*Receipt, 0, len(block.Transactions))
	gasUsed := uint64(0)
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if tx.Gas > block.GasLimit-gasUsed {
			return nil, 0, fmt.Errorf("%w: transaction %d of block %d requests %d gas, %d left", ErrGasLimitExceeded, i, block.Number, tx.Gas, block.GasLimit-gasUsed)
		}
		used, err := e.applyTransaction(s, input.Senders[i], block.Coinbase, tx)
		if err != nil {
			return nil, 0, fmt.Errorf("transaction %d of block %d: %w", i, block.Number, err)
		}
		gasUsed += used
		receipts = append(receipts, &Receipt{
			Success:           true,
			GasUsed:           used,
			CumulativeGasUsed: gasUsed,
		})
	}
	if !e.config.BlockReward.IsZero() {
		if err := credit(s, block.Coinbase, e.config.BlockReward); err != nil {
			return nil, 0, err
		}
	}
	log.Debug("Executed block", "number", block.Number, "txs", len(block.Transactions), "gas", gasUsed)
	return receipts, gasUsed, nil
}

func (e transferEngine) applyTransaction(s *ExecutionState, sender, coinbase common.Address, tx *Transaction) (uint64, error) {
	gas := IntrinsicGas(tx.Data)
	if tx.Gas < gas {
		return 0, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas, gas)
	}

	account, err := s.GetAccount(sender)
	if err != nil {
		return 0, err
	}
	if account == nil {
		account = state.NewAccountRecord(0, amount.New())
	}
	if account.Nonce != tx.Nonce {
		return 0, fmt.Errorf("%w: sender %v has nonce %d, transaction has %d", ErrNonceMismatch, sender, account.Nonce, tx.Nonce)
	}

	// The sender must be able to cover the full gas allowance and the value.
	maxFee, overflow := amount.MulOverflow(amount.New(tx.Gas), tx.GasPrice)
	if overflow {
		return 0, fmt.Errorf("%w: gas allowance overflows", ErrInsufficientFunds)
	}
	cost, overflow := amount.AddOverflow(maxFee, tx.Value)
	if overflow || account.Balance.Cmp(cost) < 0 {
		return 0, fmt.Errorf("%w: sender %v has %v, needs %v", ErrInsufficientFunds, sender, account.Balance, cost)
	}

	fee, _ := amount.MulOverflow(amount.New(gas), tx.GasPrice)
	charge, _ := amount.AddOverflow(fee, tx.Value)
	account.Balance, _ = amount.SubUnderflow(account.Balance, charge)
	account.Nonce++
	if err := s.SetAccount(sender, account); err != nil {
		return 0, err
	}
	if err := credit(s, tx.To, tx.Value); err != nil {
		return 0, err
	}
	if err := credit(s, coinbase, fee); err != nil {
		return 0, err
	}
	return gas, nil
}

func credit(s *ExecutionState, address common.Address, value amount.Amount) error {
	account, err := s.GetAccount(address)
	if err != nil {
		return err
	}
	if account == nil {
		account = state.NewAccountRecord(0, amount.New())
	}
	balance, overflow := amount.AddOverflow(account.Balance, value)
	if overflow {
		return fmt.Errorf("balance of %v overflows", address)
	}
	account.Balance = balance
	return s.SetAccount(address, account)
}

type transferExecutor[R state.Reader] struct {
	reader   R
	engine   transferEngine
	consumed bool
}

func (e *transferExecutor[R]) Reader() R {
	return e.reader
}

func (e *transferExecutor[R]) Execute(input BlockExecutionInput) (*BlockExecutionOutput, error) {
	return e.ExecuteWithStateWitness(input, nil)
}

func (e *transferExecutor[R]) ExecuteWithStateWitness(input BlockExecutionInput, witness func(*ExecutionState)) (*BlockExecutionOutput, error) {
	if e.consumed {
		return nil, ErrExecutorConsumed
	}
	e.consumed = true
	s := NewExecutionState(e.reader)
	receipts, gasUsed, err := e.engine.run(input, s)
	if err != nil {
		return nil, err
	}
	diff, err := s.Diff()
	if err != nil {
		return nil, err
	}
	// The output is fixed before the observer sees the mutable state.
	if witness != nil {
		witness(s)
	}
	return &BlockExecutionOutput{
		State:    diff,
		Receipts: receipts,
		GasUsed:  gasUsed,
	}, nil
}

type transferBatchExecutor[R state.Reader] struct {
	reader     R
	engine     transferEngine
	state      *ExecutionState
	receipts   [][]*Receipt
	firstBlock uint64
	tip        uint64
	hasTip     bool
	prune      PruneModes
	consumed   bool
	failed     error // a failed block leaves the accumulated state unusable
}

func (e *transferBatchExecutor[R]) Reader() R {
	return e.reader
}

func (e *transferBatchExecutor[R]) ExecuteAndVerifyOne(input BlockExecutionInput) error {
	if e.consumed {
		return ErrExecutorConsumed
	}
	if e.failed != nil {
		return fmt.Errorf("batch aborted by earlier failure: %w", e.failed)
	}
	if err := input.validate(); err != nil {
		return err
	}
	number := input.Block.Number
	if len(e.receipts) == 0 {
		e.firstBlock = number
	} else if want := e.firstBlock + uint64(len(e.receipts)); number != want {
		return fmt.Errorf("%w: got block %d, expected %d", ErrBlockOrder, number, want)
	}
	receipts, gasUsed, err := e.engine.run(input, e.state)
	if err == nil && input.Block.GasUsed != gasUsed {
		err = fmt.Errorf("%w: block %d declares %d, execution used %d", ErrGasUsedMismatch, number, input.Block.GasUsed, gasUsed)
	}
	if err != nil {
		e.failed = err
		return err
	}
	e.receipts = append(e.receipts, receipts)
	e.pruneReceipts()
	return nil
}

func (e *transferBatchExecutor[R]) SetTip(tip uint64) {
	e.tip = tip
	e.hasTip = true
	e.pruneReceipts()
}

func (e *transferBatchExecutor[R]) SetPruneModes(modes PruneModes) {
	e.prune = modes
	e.pruneReceipts()
}

func (e *transferBatchExecutor[R]) pruneReceipts() {
	for i, receipts := range e.receipts {
		if e.prune.shouldPruneReceipts(e.firstBlock+uint64(i), e.tip, e.hasTip) {
			for j := range receipts {
				receipts[j] = nil
			}
		}
	}
}

func (e *transferBatchExecutor[R]) Finalize() (*ExecutionOutcome, error) {
	if e.consumed {
		return nil, ErrExecutorConsumed
	}
	e.consumed = true
	if e.failed != nil {
		return nil, fmt.Errorf("batch aborted by earlier failure: %w", e.failed)
	}
	diff, err := e.state.Diff()
	if err != nil {
		return nil, err
	}
	return &ExecutionOutcome{
		Bundle:     diff,
		Receipts:   e.receipts,
		Requests:   make([][]Request, len(e.receipts)),
		FirstBlock: e.firstBlock,
	}, nil
}

func (e *transferBatchExecutor[R]) SizeHint() (int, bool) {
	return e.state.NumModifications(), true
}
