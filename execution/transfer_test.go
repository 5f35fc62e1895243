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
	"errors"
	"testing"

	"github.com/Fantom-foundation/adsexec/common"
	"github.com/Fantom-foundation/adsexec/common/amount"
	"github.com/Fantom-foundation/adsexec/state"
	"go.uber.org/mock/gomock"
)

var _ Provider[state.Reader] = &TransferProvider[state.Reader]{}

var (
	alice    = common.Address{0xA1}
	bob      = common.Address{0xB0}
	coinbase = common.Address{0xC0}
)

// accounts creates a reader serving the given accounts; all other accounts
// are absent.
func accounts(t *testing.T, records map[common.Address]*state.AccountRecord) *state.MockReader {
	ctrl := gomock.NewController(t)
	reader := state.NewMockReader(ctrl)
	reader.EXPECT().Account(gomock.Any()).AnyTimes().DoAndReturn(func(address common.Address) (*state.AccountRecord, error) {
		if record, found := records[address]; found {
			res := *record
			return &res, nil
		}
		return nil, nil
	})
	return reader
}

func transfer(nonce uint64, to common.Address, value uint64) Transaction {
	return Transaction{
		Nonce:    nonce,
		To:       to,
		Value:    amount.New(value),
		Gas:      TxGas,
		GasPrice: amount.New(1),
	}
}

func blockOf(number uint64, txs ...Transaction) BlockExecutionInput {
	senders := make([]common.Address, len(txs))
	for i := range senders {
		senders[i] = alice
	}
	return BlockExecutionInput{
		Block: &Block{
			Number:       number,
			Coinbase:     coinbase,
			GasLimit:     30_000_000,
			GasUsed:      uint64(len(txs)) * TxGas,
			Transactions: txs,
		},
		Senders: senders,
	}
}

func findAccount(diff *state.StateDiff, address common.Address) (*state.AccountRecord, bool) {
	for _, change := range diff.Accounts {
		if change.Address == address {
			return change.Info, true
		}
	}
	return nil, false
}

func TestTransferExecutor_TransfersValueAndChargesFees(t *testing.T) {
	reader := accounts(t, map[common.Address]*state.AccountRecord{
		alice: state.NewAccountRecord(3, amount.New(100_000)),
	})
	provider := NewTransferProvider[*state.MockReader](TransferConfig{BlockReward: amount.New(7)})

	output, err := provider.Executor(reader).Execute(blockOf(1, transfer(3, bob, 500), transfer(4, bob, 1)))
	if err != nil {
		t.Fatalf("failed to execute block: %v", err)
	}
	if output.GasUsed != 2*TxGas {
		t.Errorf("unexpected gas used: %d", output.GasUsed)
	}
	if len(output.Receipts) != 2 || output.Receipts[1].CumulativeGasUsed != 2*TxGas || !output.Receipts[0].Success {
		t.Errorf("unexpected receipts: %v", output.Receipts)
	}

	want := map[common.Address]*state.AccountRecord{
		alice:    state.NewAccountRecord(5, amount.New(100_000-501-2*TxGas)),
		bob:      state.NewAccountRecord(0, amount.New(501)),
		coinbase: state.NewAccountRecord(0, amount.New(2*TxGas+7)),
	}
	if len(output.State.Accounts) != len(want) {
		t.Errorf("unexpected number of account changes: %v", output.State.Accounts)
	}
	for address, record := range want {
		got, found := findAccount(output.State, address)
		if !found || got == nil || *got != *record {
			t.Errorf("unexpected record of %v, wanted %v, got %v", address, record, got)
		}
	}
}

func TestTransferExecutor_InvalidTransactionsAreRejected(t *testing.T) {
	tests := map[string]struct {
		tx   Transaction
		want error
	}{
		"nonce too low":       {transfer(2, bob, 1), ErrNonceMismatch},
		"nonce too high":      {transfer(4, bob, 1), ErrNonceMismatch},
		"value too high":      {transfer(3, bob, 10_000), ErrInsufficientFunds},
		"gas below intrinsic": {Transaction{Nonce: 3, To: bob, Gas: TxGas - 1}, ErrIntrinsicGas},
		"data not paid":       {Transaction{Nonce: 3, To: bob, Gas: TxGas, Data: []byte{1}}, ErrIntrinsicGas},
		"gas beyond limit":    {Transaction{Nonce: 3, To: bob, Gas: 40_000_000}, ErrGasLimitExceeded},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			reader := accounts(t, map[common.Address]*state.AccountRecord{
				alice: state.NewAccountRecord(3, amount.New(30_000)),
			})
			provider := NewTransferProvider[state.Reader](TransferConfig{})
			_, err := provider.Executor(reader).Execute(blockOf(1, test.tx))
			if !errors.Is(err, test.want) {
				t.Errorf("expected %v, got %v", test.want, err)
			}
		})
	}
}

func TestTransferExecutor_SenderListMustMatchTransactions(t *testing.T) {
	provider := NewTransferProvider[state.Reader](TransferConfig{})
	input := blockOf(1, transfer(0, bob, 1))
	input.Senders = nil
	if _, err := provider.Executor(nil).Execute(input); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if _, err := provider.Executor(nil).Execute(BlockExecutionInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input for missing block, got %v", err)
	}
}

func TestTransferExecutor_IsSingleUse(t *testing.T) {
	provider := NewTransferProvider[state.Reader](TransferConfig{})
	executor := provider.Executor(nil)
	if _, err := executor.Execute(blockOf(1)); err != nil {
		t.Fatalf("failed to execute empty block: %v", err)
	}
	if _, err := executor.Execute(blockOf(2)); !errors.Is(err, ErrExecutorConsumed) {
		t.Errorf("second execution should fail, got %v", err)
	}
	if _, err := provider.Executor(nil).Execute(blockOf(2)); err != nil {
		t.Errorf("fresh executor should work, got %v", err)
	}
}

func TestTransferExecutor_ReaderFailuresAreProviderErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := state.NewMockReader(ctrl)
	reader.EXPECT().Account(alice).Return(nil, state.ErrRead)

	provider := NewTransferProvider[state.Reader](TransferConfig{})
	_, err := provider.Executor(reader).Execute(blockOf(1, transfer(0, bob, 1)))
	var providerError *state.ProviderError
	if !errors.As(err, &providerError) || providerError.Kind != state.KindRead {
		t.Errorf("expected provider read error, got %v", err)
	}
}

func TestTransferExecutor_WitnessObservesFinalState(t *testing.T) {
	reader := accounts(t, map[common.Address]*state.AccountRecord{
		alice: state.NewAccountRecord(0, amount.New(100_000)),
	})
	provider := NewTransferProvider[state.Reader](TransferConfig{})

	var accessed []common.Address
	var bobRecord *state.AccountRecord
	output, err := provider.Executor(reader).ExecuteWithStateWitness(blockOf(1, transfer(0, bob, 9)), func(s *ExecutionState) {
		accessed = s.AccessedAccounts()
		bobRecord, _ = s.GetAccount(bob)
	})
	if err != nil {
		t.Fatalf("failed to execute: %v", err)
	}
	if want := []common.Address{alice, bob, coinbase}; len(accessed) != len(want) || accessed[0] != want[0] || accessed[1] != want[1] || accessed[2] != want[2] {
		t.Errorf("unexpected accessed accounts, wanted %v, got %v", want, accessed)
	}
	if bobRecord == nil || bobRecord.Balance != amount.New(9) {
		t.Errorf("witness should observe the final state, got %v", bobRecord)
	}
	if got, _ := findAccount(output.State, bob); got == nil || got.Balance != amount.New(9) {
		t.Errorf("witness must not alter the output, got %v", got)
	}
}

func TestTransferExecutor_WitnessModificationsDoNotAlterOutput(t *testing.T) {
	reader := accounts(t, map[common.Address]*state.AccountRecord{
		alice: state.NewAccountRecord(0, amount.New(100_000)),
	})
	provider := NewTransferProvider[state.Reader](TransferConfig{})

	stranger := common.Address{0x55}
	output, err := provider.Executor(reader).ExecuteWithStateWitness(blockOf(1, transfer(0, bob, 9)), func(s *ExecutionState) {
		if err := s.SetAccount(bob, state.NewAccountRecord(0, amount.New(1_000_000))); err != nil {
			t.Errorf("failed to modify witness state: %v", err)
		}
		if err := s.SetAccount(stranger, state.NewAccountRecord(1, amount.New(1))); err != nil {
			t.Errorf("failed to modify witness state: %v", err)
		}
		s.SetCode([]byte{1, 2, 3})
	})
	if err != nil {
		t.Fatalf("failed to execute: %v", err)
	}
	if got, _ := findAccount(output.State, bob); got == nil || got.Balance != amount.New(9) {
		t.Errorf("witness altered output: bob=%v, want balance 9", got)
	}
	if _, found := findAccount(output.State, stranger); found {
		t.Errorf("account created by witness must not be part of the output")
	}
	if len(output.State.Codes) != 0 {
		t.Errorf("witness changes leaked into output: %+v", output.State)
	}
}

func TestTransferBatchExecutor_AccumulatesStateAcrossBlocks(t *testing.T) {
	reader := accounts(t, map[common.Address]*state.AccountRecord{
		alice: state.NewAccountRecord(0, amount.New(100_000)),
	})
	provider := NewTransferProvider[state.Reader](TransferConfig{})
	executor := provider.BatchExecutor(reader)

	for i := uint64(0); i < 3; i++ {
		if err := executor.ExecuteAndVerifyOne(blockOf(10+i, transfer(i, bob, 1))); err != nil {
			t.Fatalf("failed to execute block %d: %v", 10+i, err)
		}
	}
	if size, known := executor.SizeHint(); !known || size != 3 {
		t.Errorf("unexpected size hint: %d/%t", size, known)
	}
	outcome, err := executor.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if outcome.FirstBlock != 10 || outcome.NumBlocks() != 3 || outcome.LastBlock() != 12 {
		t.Errorf("unexpected block range: %d+%d", outcome.FirstBlock, outcome.NumBlocks())
	}
	if err := outcome.Validate(); err != nil {
		t.Errorf("outcome should be valid: %v", err)
	}
	if got, _ := findAccount(outcome.Bundle, alice); got == nil || got.Nonce != 3 {
		t.Errorf("unexpected final state of sender: %v", got)
	}
	if got, _ := findAccount(outcome.Bundle, bob); got == nil || got.Balance != amount.New(3) {
		t.Errorf("unexpected final state of recipient: %v", got)
	}
	if _, err := executor.Finalize(); !errors.Is(err, ErrExecutorConsumed) {
		t.Errorf("second finalize should fail, got %v", err)
	}
}

func TestTransferBatchExecutor_BlocksMustBeConsecutive(t *testing.T) {
	provider := NewTransferProvider[state.Reader](TransferConfig{})
	executor := provider.BatchExecutor(nil)
	if err := executor.ExecuteAndVerifyOne(blockOf(5)); err != nil {
		t.Fatalf("failed to execute: %v", err)
	}
	if err := executor.ExecuteAndVerifyOne(blockOf(7)); !errors.Is(err, ErrBlockOrder) {
		t.Errorf("expected block order error, got %v", err)
	}
}

func TestTransferBatchExecutor_DeclaredGasIsVerified(t *testing.T) {
	reader := accounts(t, map[common.Address]*state.AccountRecord{
		alice: state.NewAccountRecord(0, amount.New(100_000)),
	})
	provider := NewTransferProvider[state.Reader](TransferConfig{})
	executor := provider.BatchExecutor(reader)
	input := blockOf(1, transfer(0, bob, 1))
	input.Block.GasUsed = 1
	if err := executor.ExecuteAndVerifyOne(input); !errors.Is(err, ErrGasUsedMismatch) {
		t.Errorf("expected gas mismatch, got %v", err)
	}
	if err := executor.ExecuteAndVerifyOne(blockOf(2)); err == nil {
		t.Errorf("executor should be unusable after a failed block")
	}
}

func TestTransferBatchExecutor_ReceiptsArePrunedBelowTip(t *testing.T) {
	reader := accounts(t, map[common.Address]*state.AccountRecord{
		alice: state.NewAccountRecord(0, amount.New(1_000_000)),
	})
	provider := NewTransferProvider[state.Reader](TransferConfig{})
	executor := provider.BatchExecutor(reader)
	executor.SetPruneModes(PruneModes{Receipts: &PruneMode{Distance: 2}})

	for i := uint64(0); i < 5; i++ {
		if err := executor.ExecuteAndVerifyOne(blockOf(i, transfer(i, bob, 1))); err != nil {
			t.Fatalf("failed to execute block %d: %v", i, err)
		}
	}
	executor.SetTip(4)
	outcome, err := executor.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	for i, receipts := range outcome.Receipts {
		pruned := receipts[0] == nil
		if want := i < 2; pruned != want {
			t.Errorf("unexpected pruning of receipts of block %d, wanted %t, got %t", i, want, pruned)
		}
	}
	if got, _ := findAccount(outcome.Bundle, alice); got == nil || got.Nonce != 5 {
		t.Errorf("pruning must not affect state, got %v", got)
	}
}
