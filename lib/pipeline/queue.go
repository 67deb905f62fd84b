// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sync"

	"github.com/bfpipe/bfpipe/lib/asset"
)

// dirtyQueue is the shared queue workers pull from. Push never
// blocks, which keeps Submit non-blocking no matter how many assets
// go stale at once. Deduplication is not the queue's job — the
// per-asset queued flag prevents double-enqueue before Push is
// called.
type dirtyQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []asset.ID
	closed bool
}

func newDirtyQueue() *dirtyQueue {
	q := &dirtyQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *dirtyQueue) Push(id asset.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, id)
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed. The
// second return is false once the queue is closed; remaining items
// are dropped, since a closing scheduler will not build them anyway.
func (q *dirtyQueue) Pop() (asset.ID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.items) == 0 {
		q.cond.Wait()
	}
	if q.closed {
		return asset.ID{}, false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

func (q *dirtyQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
