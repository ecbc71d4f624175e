package engine

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/retry"
)

// errEmptyStream marks a read that ended cleanly before delivering any
// envelope. It is retried with backoff and never surfaced.
var errEmptyStream = errors.New("stream ended without envelopes")

const (
	staleReadIntervals = 10
	minStaleRead       = time.Second
)

// subscribe runs the streaming read until ctx is done.
//
// Each pass of retry.Forever opens one read. A read that delivered
// envelopes and then ended cleanly starts a fresh pass (and a fresh
// backoff); failures are retried within the pass.
func (e *Engine) subscribe(ctx context.Context) {
	for ctx.Err() == nil {
		_, err := retry.Forever(ctx, e.policy, func(ctx context.Context, attempt int) (struct{}, error) {
			return struct{}{}, e.readOnce(ctx)
		})
		if err != nil && ctx.Err() == nil {
			// Forever only gives up on cancellation.
			e.logger.Error("read loop stopped unexpectedly", "error", err)
			return
		}
	}
}

// readOnce opens the read and applies envelopes until the stream ends.
func (e *Engine) readOnce(ctx context.Context) error {
	// Wait for a running mutation so the read includes its effect.
	if e.hasRunning() {
		if err := e.barrier.Wait(ctx); err != nil {
			return err
		}
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	var stale atomic.Bool
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		e.watchStale(readCtx, cancelRead, &stale)
	}()
	defer func() {
		cancelRead()
		<-watched
	}()

	openedAt := e.clock.Next()
	stream, err := e.conn.Query(readCtx, e.read)
	if err != nil {
		if stale.Load() && ctx.Err() == nil {
			return nil
		}
		return e.readFailed(ctx, err)
	}
	defer stream.Close()

	received := 0
	for {
		env, err := stream.Next()
		if errors.Is(err, io.EOF) {
			if received == 0 {
				return errEmptyStream
			}
			e.logger.Debug("stream ended, reopening", "envelopes", received)
			return nil
		}
		if err != nil {
			if stale.Load() && ctx.Err() == nil {
				e.logger.Debug("settled write not observed, reopening read", "envelopes", received)
				return nil
			}
			return e.readFailed(ctx, err)
		}
		received++
		e.observe(env, openedAt)
	}
}

// watchStale cancels the read when a write has awaited observation for
// staleRead without the read clearing it. The reopened read is opened after
// the write settled, so its first envelope releases the queue.
func (e *Engine) watchStale(ctx context.Context, cancel context.CancelFunc, stale *atomic.Bool) {
	var (
		timer  *time.Timer
		expiry <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	// A write may already be waiting from before this read opened.
	if e.hasAwaiting() {
		timer = time.NewTimer(e.staleRead)
		expiry = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.settled:
			if timer == nil {
				timer = time.NewTimer(e.staleRead)
				expiry = timer.C
			}
		case <-expiry:
			timer, expiry = nil, nil
			if e.hasAwaiting() {
				e.metrics.staleRead(e.actor.Name)
				stale.Store(true)
				cancel()
				return
			}
		}
	}
}

func (e *Engine) hasAwaiting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.awaiting) > 0
}

func (e *Engine) hasRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running) > 0
}

// observe applies one envelope.
func (e *Engine) observe(env ir.QueryResponse, openedAt int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.metrics.envelope(e.actor.Name)

	for _, key := range env.IdempotencyKeys {
		e.observed[key] = struct{}{}
	}

	// A settled write leaves the awaiting set once its key shows up, or
	// once a read opened after it settled delivers anything.
	for key, settledAt := range e.awaiting {
		if _, ok := e.observed[key]; ok || settledAt < openedAt {
			delete(e.awaiting, key)
		}
	}

	live := e.liveKeysLocked()
	for key := range e.observed {
		if _, ok := live[key]; !ok {
			delete(e.observed, key)
		}
	}

	if e.barrier.Armed() {
		e.barrier.Clear()
	}
	e.startNextLocked()

	// Recompute after the start so the started record counts as running.
	live = e.liveKeysLocked()
	for kind, list := range e.pending {
		kept := list[:0]
		for _, m := range list {
			if _, isLive := live[m.IdempotencyKey]; !isLive {
				continue
			}
			if _, seen := e.observed[m.IdempotencyKey]; seen {
				continue
			}
			kept = append(kept, m)
		}
		e.pending[kind] = kept
	}

	e.snapshot.Response = append([]byte(nil), env.Response...)
	e.snapshot.Loaded = true
	e.snapshot.Err = nil
	e.publishLocked()
}

// liveKeysLocked returns the keys of running, queued and awaiting
// mutations.
func (e *Engine) liveKeysLocked() map[string]struct{} {
	live := make(map[string]struct{}, len(e.running)+len(e.awaiting)+e.queue.Len())
	for _, c := range e.running {
		live[c.record.IdempotencyKey] = struct{}{}
	}
	for _, key := range e.queue.Keys() {
		live[key] = struct{}{}
	}
	for key := range e.awaiting {
		live[key] = struct{}{}
	}
	return live
}

// readFailed records a read failure and re-arms the barrier. The returned
// error makes retry.Forever try again.
func (e *Engine) readFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	e.mu.Lock()
	e.metrics.readFailure(e.actor.Name)
	e.snapshot.Loaded = false
	e.snapshot.Err = err

	drained := false
	if e.drainOnReadFailure {
		// Reading a not-yet-constructed actor fails until the queued
		// constructor has run.
		drained = e.startQueuedLocked()
	}
	e.barrier.Arm()
	e.publishLocked()
	e.mu.Unlock()

	e.logger.Warn("read failed", "error", err, "drained", drained)
	return err
}
