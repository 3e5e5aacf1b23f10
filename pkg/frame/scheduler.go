// Package frame provides the "callback on next paint" primitive the
// interaction engines schedule their continuations on.
//
// A Scheduler runs callbacks serially, once per frame, in request order.
// Every engine that schedules work must be able to cancel all of it; the
// scheduler guarantees a cancelled handle never fires.
package frame

import (
	"sync"
	"time"
)

// Callback is invoked on the next frame with the frame timestamp.
type Callback func(now time.Time)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// Scheduler is the animation-frame primitive.
type Scheduler interface {
	// RequestFrame schedules cb for the next frame.
	RequestFrame(cb Callback) Handle
	// CancelFrame drops a scheduled callback. Unknown handles are ignored.
	CancelFrame(h Handle)
}

// queue is the bookkeeping shared by Loop and Manual.
type queue struct {
	mu      sync.Mutex
	next    Handle
	order   []Handle
	pending map[Handle]Callback
	closed  bool
}

func newQueue() queue {
	return queue{pending: make(map[Handle]Callback)}
}

func (q *queue) add(cb Callback) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || cb == nil {
		return 0
	}
	q.next++
	h := q.next
	q.pending[h] = cb
	q.order = append(q.order, h)
	return h
}

func (q *queue) cancel(h Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, h)
}

// take removes and returns every callback registered so far, in order.
// Callbacks requested while the batch runs land in the next frame.
func (q *queue) take() []Callback {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.order = q.order[:0]
		return nil
	}

	batch := make([]Callback, 0, len(q.pending))
	for _, h := range q.order {
		if cb, ok := q.pending[h]; ok {
			batch = append(batch, cb)
			delete(q.pending, h)
		}
	}
	q.order = q.order[:0]
	return batch
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = make(map[Handle]Callback)
	q.order = nil
}
