// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package stage

import (
	"sync"

	"github.com/Fantom-foundation/adsexec/execution"
)

// MemorySource is a BlockSource serving blocks kept in memory. It is safe
// for concurrent use, so blocks may be added while a stage is running.
type MemorySource struct {
	mu     sync.Mutex
	blocks map[uint64]execution.BlockExecutionInput
}

// NewMemorySource creates a source serving the given blocks.
func NewMemorySource(blocks ...execution.BlockExecutionInput) *MemorySource {
	res := &MemorySource{blocks: map[uint64]execution.BlockExecutionInput{}}
	res.Add(blocks...)
	return res
}

// Add makes the given blocks available.
func (s *MemorySource) Add(blocks ...execution.BlockExecutionInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, block := range blocks {
		s.blocks[block.Block.Number] = block
	}
}

func (s *MemorySource) Block(number uint64) (execution.BlockExecutionInput, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, found := s.blocks[number]
	return block, found, nil
}
