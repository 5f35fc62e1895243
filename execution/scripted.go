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
	"reflect"
	"sync"

	"github.com/Fantom-foundation/adsexec/state"
)

// OutcomeQueue is a FIFO queue of prepared execution outcomes consumed by
// scripted executors. It is safe for concurrent use.
type OutcomeQueue struct {
	mu       sync.Mutex
	outcomes []*ExecutionOutcome
}

// Extend appends the given outcomes in order.
func (q *OutcomeQueue) Extend(outcomes ...*ExecutionOutcome) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outcomes = append(q.outcomes, outcomes...)
}

// Pop removes and returns the oldest outcome in the queue.
func (q *OutcomeQueue) Pop() (*ExecutionOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.outcomes) == 0 {
		return nil, ErrQueueExhausted
	}
	res := q.outcomes[0]
	q.outcomes[0] = nil
	q.outcomes = q.outcomes[1:]
	return res, nil
}

// Len returns the number of outcomes left in the queue.
func (q *OutcomeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outcomes)
}

// ScriptCalls records the calls on scripted batch executors that do not
// consume outcomes.
type ScriptCalls struct {
	ExecuteAndVerifyOne int
	Tips                []uint64
	PruneModes          []PruneModes
}

// ScriptedProvider creates executors replaying the outcomes of a queue
// instead of executing blocks. Every Execute, ExecuteWithStateWitness, and
// Finalize call consumes exactly one outcome.
type ScriptedProvider[R state.Reader] struct {
	queue *OutcomeQueue

	mu    sync.Mutex
	calls ScriptCalls
}

// NewScriptedProvider creates a provider consuming the given queue.
func NewScriptedProvider[R state.Reader](queue *OutcomeQueue) *ScriptedProvider[R] {
	return &ScriptedProvider[R]{queue: queue}
}

// Calls returns a copy of the calls recorded so far.
func (p *ScriptedProvider[R]) Calls() ScriptCalls {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := p.calls
	res.Tips = append([]uint64(nil), p.calls.Tips...)
	res.PruneModes = append([]PruneModes(nil), p.calls.PruneModes...)
	return res
}

func (p *ScriptedProvider[R]) record(update func(calls *ScriptCalls)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update(&p.calls)
}

func (p *ScriptedProvider[R]) Executor(reader R) Executor[R] {
	return &scriptedExecutor[R]{provider: p, reader: reader}
}

func (p *ScriptedProvider[R]) BatchExecutor(reader R) BatchExecutor[R] {
	return &scriptedExecutor[R]{provider: p, reader: reader}
}

// scriptedExecutor implements both executor shapes. Like real executors it
// is single use: the first outcome-consuming call ends its life.
type scriptedExecutor[R state.Reader] struct {
	provider *ScriptedProvider[R]
	reader   R
	consumed bool
}

func (e *scriptedExecutor[R]) Reader() R {
	return e.reader
}

func (e *scriptedExecutor[R]) pop() (*ExecutionOutcome, error) {
	if e.consumed {
		return nil, ErrExecutorConsumed
	}
	e.consumed = true
	return e.provider.queue.Pop()
}

func (e *scriptedExecutor[R]) Execute(BlockExecutionInput) (*BlockExecutionOutput, error) {
	outcome, err := e.pop()
	if err != nil {
		return nil, err
	}
	return flatten(outcome), nil
}

func (e *scriptedExecutor[R]) ExecuteWithStateWitness(input BlockExecutionInput, witness func(*ExecutionState)) (*BlockExecutionOutput, error) {
	output, err := e.Execute(input)
	if err != nil {
		return nil, err
	}
	if witness != nil {
		var reader state.Reader
		if !isNil(e.reader) {
			reader = e.reader
		}
		witness(NewExecutionState(reader))
	}
	return output, nil
}

func (e *scriptedExecutor[R]) ExecuteAndVerifyOne(BlockExecutionInput) error {
	if e.consumed {
		return ErrExecutorConsumed
	}
	e.provider.record(func(calls *ScriptCalls) { calls.ExecuteAndVerifyOne++ })
	return nil
}

func (e *scriptedExecutor[R]) SetTip(tip uint64) {
	e.provider.record(func(calls *ScriptCalls) { calls.Tips = append(calls.Tips, tip) })
}

func (e *scriptedExecutor[R]) SetPruneModes(modes PruneModes) {
	e.provider.record(func(calls *ScriptCalls) { calls.PruneModes = append(calls.PruneModes, modes) })
}

func (e *scriptedExecutor[R]) Finalize() (*ExecutionOutcome, error) {
	return e.pop()
}

func (e *scriptedExecutor[R]) SizeHint() (int, bool) {
	return 0, false
}

// isNil is true for nil interfaces and typed nil pointers.
func isNil(reader any) bool {
	if reader == nil {
		return true
	}
	v := reflect.ValueOf(reader)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// flatten combines the receipts and requests of all blocks of an outcome
// into a single block output.
func flatten(outcome *ExecutionOutcome) *BlockExecutionOutput {
	res := &BlockExecutionOutput{State: outcome.Bundle}
	if res.State == nil {
		res.State = &state.StateDiff{}
	}
	for _, receipts := range outcome.Receipts {
		for _, receipt := range receipts {
			res.Receipts = append(res.Receipts, receipt)
			if receipt != nil {
				res.GasUsed += receipt.GasUsed
			}
		}
	}
	for _, requests := range outcome.Requests {
		res.Requests = append(res.Requests, requests...)
	}
	return res
}
