package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/retry"
	"github.com/roach88/actorsync/internal/transport"
)

// call is one submitted mutation and the channel its invoker waits on.
type call struct {
	kind   ir.KindSpec
	record ir.Mutation
	done   chan struct{}
	resp   json.RawMessage
	err    error
}

func newCall(kind ir.KindSpec, record ir.Mutation) *call {
	return &call{kind: kind, record: record, done: make(chan struct{})}
}

// finish resolves the invoker. Must be called exactly once.
func (c *call) finish(resp json.RawMessage, err error) {
	c.resp = resp
	c.err = err
	close(c.done)
}

// Recovered is a mutation found in the mutation log at start, left behind
// by a previous process.
type Recovered struct {
	Mutation ir.Mutation

	engine *Engine
	kind   ir.KindSpec
}

// Resume submits the mutation again under its original idempotency key,
// through the same gate as a fresh Invoke. The entry leaves the recovered
// list.
func (r *Recovered) Resume(ctx context.Context) (json.RawMessage, error) {
	return r.engine.resume(ctx, r)
}

// Invoke issues a mutation of kind and waits for its outcome.
//
// The returned error is an *transport.ApplicationError for a terminal
// server failure, ErrAborted if the engine closed first, or ctx.Err() if
// the caller stopped waiting. In the last case the mutation itself carries
// on: it stays queued or running and its effect will still be observed.
func (e *Engine) Invoke(ctx context.Context, kind string, request, metadata json.RawMessage) (json.RawMessage, error) {
	spec, ok := e.actor.Kind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q for actor type %q", ErrUnknownKind, kind, e.actor.Name)
	}
	if len(request) == 0 {
		request = json.RawMessage(`{}`)
	}

	record := ir.Mutation{
		Kind:           kind,
		Request:        append(json.RawMessage(nil), request...),
		IdempotencyKey: e.keys.Generate(),
		IsLoading:      false, // a queued mutation is not loading yet
	}
	if len(metadata) > 0 {
		record.Metadata = append(json.RawMessage(nil), metadata...)
	}
	return e.submit(ctx, spec, record)
}

func (e *Engine) resume(ctx context.Context, r *Recovered) (json.RawMessage, error) {
	e.mu.Lock()
	list := e.recovered[r.kind.Name]
	idx := -1
	for i, x := range list {
		if x == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return nil, ErrAlreadyResumed
	}
	e.recovered[r.kind.Name] = append(list[:idx:idx], list[idx+1:]...)
	e.mu.Unlock()

	e.logger.Info("resuming recovered mutation",
		"kind", r.kind.Name,
		"idempotency_key", r.Mutation.IdempotencyKey,
	)
	return e.submit(ctx, r.kind, r.Mutation.Clone())
}

// submit records the mutation as pending and either starts it or queues
// it. The gate check and the insertion into running happen under one lock
// acquisition, so two submitters can never both start.
func (e *Engine) submit(ctx context.Context, kind ir.KindSpec, record ir.Mutation) (json.RawMessage, error) {
	c := newCall(kind, record)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.pending[kind.Name] = append(e.pending[kind.Name], record.Clone())

	if e.mustQueueLocked() {
		e.queue.Enqueue(c)
		if err := e.log.Push(context.Background(), kind.Name, record); err != nil {
			e.logger.Warn("persist queued mutation failed",
				"kind", kind.Name,
				"idempotency_key", record.IdempotencyKey,
				"error", err,
			)
		}
		e.metrics.setQueueDepth(e.actor.Name, e.actorID, e.queue.Len())
		e.logger.Debug("mutation queued",
			"kind", kind.Name,
			"idempotency_key", record.IdempotencyKey,
			"queue_depth", e.queue.Len(),
		)
	} else {
		e.startLocked(c)
	}
	e.publishLocked()
	e.mu.Unlock()

	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// mustQueueLocked is the dispatch gate.
func (e *Engine) mustQueueLocked() bool {
	return len(e.running) > 0 ||
		e.queue.Len() > 0 ||
		e.barrier.Armed() ||
		len(e.awaiting) > 0
}

// startNextLocked starts the head of the queue if the gate is open.
func (e *Engine) startNextLocked() {
	if e.closed || len(e.running) > 0 || len(e.awaiting) > 0 || e.barrier.Armed() {
		return
	}
	e.startQueuedLocked()
}

// startQueuedLocked starts the head of the queue unconditionally (apart
// from at-most-one-in-flight). Used by the read-failure drain.
func (e *Engine) startQueuedLocked() bool {
	if e.closed || len(e.running) > 0 {
		return false
	}
	c, ok := e.queue.TryDequeue()
	if !ok {
		return false
	}
	e.metrics.setQueueDepth(e.actor.Name, e.actorID, e.queue.Len())
	e.startLocked(c)
	return true
}

func (e *Engine) startLocked(c *call) {
	e.running = append(e.running, c)
	e.metrics.started(e.actor.Name, c.kind.Name)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(c)
	}()
}

// execute retries the write until it succeeds, fails terminally, or the
// engine closes, then settles it.
func (e *Engine) execute(c *call) {
	key := c.record.IdempotencyKey
	logger := e.logger.With("kind", c.kind.Name, "idempotency_key", key)

	resp, err := retry.Forever(e.ctx, e.policy, func(ctx context.Context, attempt int) (json.RawMessage, error) {
		e.markAttempt(c.kind.Name, key, true, nil)
		e.metrics.attempt(e.actor.Name, c.kind.Name)

		resp, err := e.conn.Mutate(ctx, c.kind.Path, c.record.Request, key)
		if err == nil {
			return resp, nil
		}
		if transport.IsApplicationError(err) {
			return nil, retry.Terminal(err)
		}
		if ctx.Err() == nil {
			e.markAttempt(c.kind.Name, key, false, err)
			logger.Warn("mutation attempt failed", "attempt", attempt, "error", err)
		}
		return nil, err
	})

	e.settle(c, resp, err)
}

// markAttempt updates the loading flag and last error of a pending record.
func (e *Engine) markAttempt(kind, key string, loading bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.pending[kind]
	for i := range list {
		if list[i].IdempotencyKey == key {
			list[i].IsLoading = loading
			if err != nil {
				list[i].Error = err
			}
			e.publishLocked()
			return
		}
	}
}

// settle runs once per started mutation, whatever the outcome.
func (e *Engine) settle(c *call, resp json.RawMessage, err error) {
	kind := c.kind.Name
	key := c.record.IdempotencyKey
	outcome := OutcomeOK

	e.mu.Lock()
	e.removeRunningLocked(c)

	switch {
	case err == nil:
		if _, seen := e.observed[key]; !seen {
			e.awaiting[key] = e.clock.Next()
			select {
			case e.settled <- struct{}{}:
			default:
			}
		}
		e.updatePendingLocked(kind, key, func(m *ir.Mutation) {
			m.IsLoading = false
			m.Error = nil
		})
		e.popLocked(kind, key)

	case transport.IsApplicationError(err):
		outcome = OutcomeFailed
		failed := c.record.Clone()
		failed.IsLoading = false
		failed.Error = err
		f := e.failed[kind]
		if f == nil {
			f = &failedLog{}
			e.failed[kind] = f
		}
		f.add(failed)
		e.removePendingLocked(kind, key)
		e.popLocked(kind, key)

	default:
		// Only cancellation ends retry.Forever without success or a
		// terminal error. The record stays in the log for recovery.
		outcome = OutcomeAborted
		err = ErrAborted
		resp = nil
	}

	e.metrics.settled(e.actor.Name, kind, outcome)
	e.logger.Debug("mutation settled",
		"kind", kind,
		"idempotency_key", key,
		"outcome", outcome,
	)

	if e.barrier.Armed() {
		e.barrier.Release()
	}
	e.startNextLocked()
	e.publishLocked()
	e.mu.Unlock()

	c.finish(resp, err)
}

func (e *Engine) removeRunningLocked(c *call) {
	kept := e.running[:0]
	for _, r := range e.running {
		if r != c {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(e.running); i++ {
		e.running[i] = nil
	}
	e.running = kept
}

func (e *Engine) updatePendingLocked(kind, key string, fn func(*ir.Mutation)) {
	list := e.pending[kind]
	for i := range list {
		if list[i].IdempotencyKey == key {
			fn(&list[i])
			return
		}
	}
}

func (e *Engine) removePendingLocked(kind, key string) {
	list := e.pending[kind]
	kept := list[:0]
	for _, m := range list {
		if m.IdempotencyKey != key {
			kept = append(kept, m)
		}
	}
	e.pending[kind] = kept
}

// popLocked purges a settled record from the mutation log. Best effort.
func (e *Engine) popLocked(kind, key string) {
	if err := e.log.Pop(context.Background(), kind, key); err != nil {
		e.logger.Warn("purge settled mutation failed",
			"kind", kind,
			"idempotency_key", key,
			"error", err,
		)
	}
}

// recoverAll loads each kind's persisted list into the recovered set.
func (e *Engine) recoverAll(ctx context.Context) {
	if !e.log.Enabled() {
		return
	}
	for _, kind := range e.actor.Kinds {
		records, err := e.log.Recover(ctx, kind.Name)
		if err != nil {
			e.logger.Warn("recover mutations failed", "kind", kind.Name, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		e.mu.Lock()
		for _, m := range records {
			e.recovered[kind.Name] = append(e.recovered[kind.Name], &Recovered{
				Mutation: m,
				engine:   e,
				kind:     kind,
			})
		}
		e.publishLocked()
		e.mu.Unlock()

		e.logger.Info("recovered mutations", "kind", kind.Name, "count", len(records))
	}
}
