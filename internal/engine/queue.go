package engine

import "sync"

// callQueue is the actor-wide FIFO of deferred mutation starts.
//
// One queue spans all kinds: the order in which mutations were invoked is
// the order in which they start, regardless of kind.
//
// The engine only touches the queue while holding its own mutex; the
// queue's lock makes the type safe on its own for Len and tests.
type callQueue struct {
	mu     sync.Mutex
	calls  []*call
	closed bool
}

// newCallQueue creates an empty queue.
func newCallQueue() *callQueue {
	return &callQueue{
		calls: make([]*call, 0, 16),
	}
}

// Enqueue adds a call to the back of the queue.
// Returns false if the queue is closed.
func (q *callQueue) Enqueue(c *call) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.calls = append(q.calls, c)
	return true
}

// TryDequeue removes and returns the front call, or (nil, false) if empty.
func (q *callQueue) TryDequeue() (*call, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.calls) == 0 {
		return nil, false
	}

	c := q.calls[0]

	// CRITICAL: Nil out the slot so a started call is not retained by the
	// backing array after it settles.
	q.calls[0] = nil

	if len(q.calls) == 1 {
		q.calls = q.calls[:0]
	} else {
		q.calls = q.calls[1:]
	}
	return c, true
}

// Keys returns the idempotency keys of the queued calls, in order.
func (q *callQueue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, len(q.calls))
	for i, c := range q.calls {
		keys[i] = c.record.IdempotencyKey
	}
	return keys
}

// Len returns the current queue length.
func (q *callQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// Close rejects further Enqueue calls and returns whatever was still queued,
// in order.
func (q *callQueue) Close() []*call {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	drained := q.calls
	q.calls = nil
	return drained
}
