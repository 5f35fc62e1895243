// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ads

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// TaskManager runs background work on behalf of a store, such as
// compactions. Stores do not wait for submitted tasks except on Close.
type TaskManager interface {
	// Go schedules the given task for asynchronous execution.
	Go(task func() error)
	// Wait blocks until all scheduled tasks have completed and returns the
	// errors they produced.
	Wait() error
}

type taskManager struct {
	group errgroup.Group
	mu    sync.Mutex
	errs  []error
}

// NewTaskManager creates a task manager running each task in its own
// goroutine. A failing task does not cancel the others.
func NewTaskManager() TaskManager {
	return &taskManager{}
}

func (m *taskManager) Go(task func() error) {
	m.group.Go(func() error {
		if err := task(); err != nil {
			log.Warn("Background store task failed", "err", err)
			m.mu.Lock()
			m.errs = append(m.errs, err)
			m.mu.Unlock()
		}
		return nil
	})
}

func (m *taskManager) Wait() error {
	m.group.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) == 0 {
		return nil
	}
	err := errors.Join(m.errs...)
	m.errs = nil
	return fmt.Errorf("background tasks failed: %w", err)
}

// TaskTracker keeps track of the task managers handed to a store so that
// all of them can be awaited on close.
type TaskTracker struct {
	current  TaskManager
	previous []TaskManager
}

// Use registers the given manager as the current one. A nil manager is
// replaced by a default manager.
func (t *TaskTracker) Use(tasks TaskManager) TaskManager {
	if tasks == nil {
		if t.current != nil {
			return t.current
		}
		tasks = NewTaskManager()
	}
	if t.current != nil && t.current != tasks {
		t.previous = append(t.previous, t.current)
	}
	t.current = tasks
	return tasks
}

// Current returns the manager of the latest block, nil if there is none.
func (t *TaskTracker) Current() TaskManager {
	return t.current
}

// WaitAll waits for all managers seen so far.
func (t *TaskTracker) WaitAll() error {
	var errs []error
	for _, tasks := range append(t.previous, t.current) {
		if tasks == nil {
			continue
		}
		errs = append(errs, tasks.Wait())
	}
	t.previous = nil
	return errors.Join(errs...)
}
