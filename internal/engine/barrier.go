package engine

import (
	"context"
	"sync"
)

// BarrierState is the observable state of a Barrier.
type BarrierState int

const (
	// BarrierUnarmed: steady state. Mutations start without waiting and the
	// reader never blocks.
	BarrierUnarmed BarrierState = iota
	// BarrierArmed: a read is being (re)established. New mutations queue
	// and the reader waits for the running mutation to settle.
	BarrierArmed
	// BarrierReleased: armed, and the running mutation has settled. The
	// reader may proceed; mutations still queue until the first envelope
	// clears the barrier.
	BarrierReleased
)

// String returns the state name.
func (s BarrierState) String() string {
	switch s {
	case BarrierUnarmed:
		return "unarmed"
	case BarrierArmed:
		return "armed"
	case BarrierReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Barrier is the flush barrier between writes and the streaming read.
//
// While armed it forces writes to queue so that the first envelope of a
// fresh read reflects every write that was in flight when the read was
// (re)opened. Release is set-once per arming; Arm starts a new arming.
//
// Thread-safety: all methods are safe for concurrent use.
type Barrier struct {
	mu       sync.Mutex
	armed    bool
	released bool
	ch       chan struct{} // closed on Release or Clear
}

// NewBarrier creates a barrier, armed or not.
func NewBarrier(armed bool) *Barrier {
	b := &Barrier{ch: make(chan struct{})}
	if armed {
		b.armed = true
	} else {
		close(b.ch)
	}
	return b
}

// State returns the current state.
func (b *Barrier) State() BarrierState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Barrier) stateLocked() BarrierState {
	switch {
	case !b.armed:
		return BarrierUnarmed
	case b.released:
		return BarrierReleased
	default:
		return BarrierArmed
	}
}

// Armed reports whether the barrier is armed, released or not.
func (b *Barrier) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

// Arm starts a new arming. Waiters of a previous arming are woken.
func (b *Barrier) Arm() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeLocked()
	b.armed = true
	b.released = false
	b.ch = make(chan struct{})
}

// Release lets waiters through. It is a no-op when unarmed or already
// released.
func (b *Barrier) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.armed || b.released {
		return
	}
	b.released = true
	b.closeLocked()
}

// Clear returns the barrier to the unarmed state and wakes any waiters.
func (b *Barrier) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.armed = false
	b.released = false
	b.closeLocked()
}

// Wait blocks until the barrier is released or cleared, or ctx is done.
// It returns immediately when unarmed.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Barrier) closeLocked() {
	select {
	case <-b.ch:
	default:
		close(b.ch)
	}
}
