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

//go:generate mockgen -source state.go -destination mock_state.go -package state

import (
	"github.com/Fantom-foundation/adsexec/common"
)

// Reader provides the state access required by block execution. All reads
// of one Reader observe the state at the end of a single block.
type Reader interface {
	// Account returns the record of the given account, nil if the account
	// does not exist.
	Account(address common.Address) (*AccountRecord, error)

	// Code returns the byte code with the given hash. Unknown hashes result
	// in ErrNotFound.
	Code(codeHash common.Hash) ([]byte, error)

	// Storage returns the value of the given slot, zero if never written.
	Storage(address common.Address, slot common.Key) (common.Value, error)

	// BlockHash returns the hash of the given ancestor block. Blocks outside
	// of the retained window result in ErrNotFound.
	BlockHash(number uint64) (common.Hash, error)
}
