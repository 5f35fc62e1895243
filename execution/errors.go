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

import "github.com/Fantom-foundation/adsexec/common"

const (
	// ErrExecutorConsumed is reported when a single-use executor is used a
	// second time.
	ErrExecutorConsumed = common.ConstError("executor already consumed")
	// ErrQueueExhausted is reported by scripted executors running out of
	// prepared outcomes.
	ErrQueueExhausted = common.ConstError("no scripted outcome left")
	// ErrInvalidOutcome signals an outcome whose receipts and requests do
	// not align with the blocks it covers.
	ErrInvalidOutcome = common.ConstError("invalid execution outcome")
	// ErrInvalidInput signals a block input that can not be executed, for
	// instance due to a sender list not matching the transactions.
	ErrInvalidInput = common.ConstError("invalid block input")
	// ErrBlockOrder signals blocks fed to a batch executor out of order.
	ErrBlockOrder = common.ConstError("block out of order")
	// ErrGasUsedMismatch signals a block whose declared gas usage differs
	// from the gas used by its execution.
	ErrGasUsedMismatch = common.ConstError("gas used mismatch")

	ErrNonceMismatch     = common.ConstError("nonce mismatch")
	ErrInsufficientFunds = common.ConstError("insufficient funds for gas * price + value")
	ErrIntrinsicGas      = common.ConstError("intrinsic gas too low")
	ErrGasLimitExceeded  = common.ConstError("block gas limit exceeded")
)
