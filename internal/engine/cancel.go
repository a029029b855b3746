// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"sync"
)

// =============================================================================
// ABORT HANDLE (THREAD-SAFE)
// =============================================================================

// abortHandle holds the cancel function for a turn's in-flight request
// with mutex protection. The function is set by the turn goroutine and
// invoked from whichever goroutine calls Cancel or SendMessage, so
// unsynchronized access would race.
//
// The handle belongs to exactly one turn and dies with it; it is never
// reused for a later request, which keeps a superseded turn from
// aborting its successor.
type abortHandle struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func newAbortHandle() *abortHandle {
	return &abortHandle{}
}

// set stores the cancel function for the turn's request context.
func (h *abortHandle) set(fn context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelFunc = fn
}

// abort invokes the stored cancel function and clears it. Safe to call
// multiple times or before set.
func (h *abortHandle) abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelFunc != nil {
		h.cancelFunc()
		h.cancelFunc = nil
	}
}
