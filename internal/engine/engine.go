package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/retry"
	"github.com/roach88/actorsync/internal/store"
	"github.com/roach88/actorsync/internal/transport"
)

// Conn is the wire the engine talks to: one write attempt, or one
// streaming read.
type Conn interface {
	Mutate(ctx context.Context, path string, body json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Query(ctx context.Context, q ir.QueryRequest) (Envelopes, error)
}

// Envelopes is one open streaming read. Next returns io.EOF when the
// server ends the stream cleanly.
type Envelopes interface {
	Next() (ir.QueryResponse, error)
	Close() error
}

// HTTPConn adapts a transport client to Conn.
func HTTPConn(c *transport.Client) Conn {
	return httpConn{c}
}

type httpConn struct {
	*transport.Client
}

func (c httpConn) Query(ctx context.Context, q ir.QueryRequest) (Envelopes, error) {
	s, err := c.Client.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot is the consumer-visible read state.
type Snapshot struct {
	// Response is the state bytes of the latest envelope, nil before the
	// first one.
	Response []byte

	// Loaded is false until the first envelope and again after a read
	// failure, until the next envelope.
	Loaded bool

	// Err is the last read failure. A successful envelope clears it.
	Err error

	// Version increases with every published change.
	Version uint64
}

// Engine synchronizes a local view of one actor with its server.
//
// At most one mutation of the actor is on the wire at any time. A mutation
// invoked while another is running, while others are queued, while the
// read is being (re)established, or while the previous write has not yet
// been observed on the read, waits in an actor-wide FIFO queue.
//
// Thread-safety model:
//   - Invoke, Resume, accessors: safe from any goroutine
//   - Start: once
//   - Close: safe from any goroutine, idempotent
//
// INVARIANTS:
//   - len(running) <= 1
//   - a queued record is in the mutation log (when persistence is enabled)
//   - observed ⊆ keys of running ∪ queued ∪ awaiting, after every envelope
type Engine struct {
	actor   *ir.ActorType
	actorID string
	read    ir.QueryRequest
	conn    Conn

	log                *store.MutationLog
	keys               KeyGenerator
	clock              *Clock
	policy             retry.Policy
	drainOnReadFailure bool
	staleRead          time.Duration
	logger             *slog.Logger
	metrics            *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	closed    bool
	queue     *callQueue
	running   []*call
	barrier   *Barrier
	pending   map[string][]ir.Mutation
	failed    map[string]*failedLog
	recovered map[string][]*Recovered
	observed  map[string]struct{}
	awaiting  map[string]int64 // idempotency key -> settle stamp
	snapshot  Snapshot
	changed   chan struct{}
	settled   chan struct{} // signalled when a write joins awaiting
}

// Option configures an Engine.
type Option func(*Engine)

// WithMutationLog persists queued mutations for recovery after restart.
func WithMutationLog(l *store.MutationLog) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithKeyGenerator sets the idempotency key generator.
// Defaults to UUIDv7Generator.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.keys = g
		}
	}
}

// WithRetryPolicy sets the backoff for writes and for reopening the read.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithDrainOnReadFailure controls whether a read failure starts one queued
// mutation when nothing is running. Defaults to true: reading a
// not-yet-constructed actor fails until the queued constructor runs.
func WithDrainOnReadFailure(drain bool) Option {
	return func(e *Engine) {
		e.drainOnReadFailure = drain
	}
}

// WithStaleRead sets how long a write may await observation on an open
// read that delivers nothing before the read is reopened. A server that
// applies a write without changing state may never push an envelope for
// it. Defaults to ten times the retry policy's MaxInterval, and no less
// than a second.
func WithStaleRead(d time.Duration) Option {
	return func(e *Engine) {
		e.staleRead = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces the logical clock.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// New creates an engine for actorID bound to one read request. The engine
// does nothing until Start.
func New(actor *ir.ActorType, actorID string, readRequest json.RawMessage, conn Conn, opts ...Option) (*Engine, error) {
	if actor == nil {
		return nil, &ProtocolError{Code: ErrCodeInvalidActorType, Message: "actor type is required", ActorID: actorID}
	}
	if err := actor.Validate(); err != nil {
		return nil, &ProtocolError{Code: ErrCodeInvalidActorType, Message: err.Error(), ActorID: actorID}
	}
	if conn == nil {
		return nil, fmt.Errorf("engine for %q: conn is required", actorID)
	}
	if len(readRequest) == 0 {
		readRequest = json.RawMessage(`{}`)
	}

	e := &Engine{
		actor:              actor,
		actorID:            actorID,
		read:               ir.QueryRequest{Method: actor.Reader, Request: append([]byte(nil), readRequest...)},
		conn:               conn,
		keys:               UUIDv7Generator{},
		clock:              NewClock(),
		policy:             retry.DefaultPolicy(),
		drainOnReadFailure: true,
		logger:             slog.Default(),
		queue:              newCallQueue(),
		// Mutations issued before the first envelope queue up.
		barrier:   NewBarrier(true),
		pending:   make(map[string][]ir.Mutation),
		failed:    make(map[string]*failedLog),
		recovered: make(map[string][]*Recovered),
		observed:  make(map[string]struct{}),
		awaiting:  make(map[string]int64),
		changed:   make(chan struct{}),
		settled:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.staleRead <= 0 {
		e.staleRead = max(staleReadIntervals*e.policy.MaxInterval, minStaleRead)
	}
	e.logger = e.logger.With("actor_type", actor.Name, "actor_id", actorID)
	if e.policy.Logger == nil {
		e.policy.Logger = e.logger
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Start recovers persisted mutations and starts the streaming read.
//
// Storage errors during recovery are logged; the engine still starts.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine for %q already started", e.actorID)
	}
	e.started = true
	e.mu.Unlock()

	e.recoverAll(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.subscribe(e.ctx)
	}()
	return nil
}

// Close stops the read, aborts the running mutation and resolves queued
// invokers with ErrAborted. Queued records stay in the mutation log.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	queued := e.queue.Close()
	e.mu.Unlock()

	e.cancel()
	for _, c := range queued {
		e.metrics.settled(e.actor.Name, c.kind.Name, OutcomeAborted)
		c.finish(nil, ErrAborted)
	}
	e.wg.Wait()
	e.metrics.forget(e.actor.Name, e.actorID)

	e.mu.Lock()
	e.publishLocked()
	e.mu.Unlock()

	e.logger.Debug("engine closed", "aborted_queued", len(queued))
	return nil
}

// ActorType returns the kind table.
func (e *Engine) ActorType() *ir.ActorType { return e.actor }

// ActorID returns the actor this engine is bound to.
func (e *Engine) ActorID() string { return e.actorID }

// ReadRequest returns the bound read request.
func (e *Engine) ReadRequest() ir.QueryRequest { return e.read }

// Snapshot returns the current read state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Changed returns a channel that is closed on the next published change.
// Callers re-fetch the channel after each wake-up.
func (e *Engine) Changed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// Pending returns the kind's mutations whose effects have not been
// observed yet, in invocation order.
func (e *Engine) Pending(kind string) []ir.Mutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMutations(e.pending[kind])
}

// Failed returns the kind's terminally failed mutations. Calling Failed
// marks the list as seen: the next failure replaces it instead of
// appending.
func (e *Engine) Failed(kind string) []ir.Mutation {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.failed[kind]
	if f == nil {
		return nil
	}
	return f.view()
}

// Recovered returns the kind's mutations recovered from a previous
// process that have not been resumed.
func (e *Engine) Recovered(kind string) []*Recovered {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Recovered(nil), e.recovered[kind]...)
}

// Idle reports whether the view has caught up: loaded, nothing running,
// queued or awaiting observation.
func (e *Engine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idleLocked()
}

func (e *Engine) idleLocked() bool {
	return e.snapshot.Loaded && len(e.running) == 0 && e.queue.Len() == 0 && len(e.awaiting) == 0
}

// WaitIdle blocks until Idle or ctx is done. It returns ErrClosed once
// the engine is closed, even if nothing is left running.
func (e *Engine) WaitIdle(ctx context.Context) error {
	for {
		e.mu.Lock()
		idle := e.idleLocked()
		closed := e.closed
		ch := e.changed
		e.mu.Unlock()

		// A closed engine aborted whatever was still queued, so an empty
		// queue no longer means the writes were observed.
		if closed {
			return ErrClosed
		}
		if idle {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// BarrierState exposes the flush barrier for diagnostics.
func (e *Engine) BarrierState() BarrierState {
	return e.barrier.State()
}

// publishLocked bumps the version and wakes Changed waiters.
func (e *Engine) publishLocked() {
	e.snapshot.Version++
	close(e.changed)
	e.changed = make(chan struct{})
}

func cloneMutations(in []ir.Mutation) []ir.Mutation {
	if len(in) == 0 {
		return nil
	}
	out := make([]ir.Mutation, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// failedLog implements the collapse rule for terminal failures: once the
// consumer has looked at the list, the next failure starts a new one.
type failedLog struct {
	records []ir.Mutation
	seen    bool
}

func (f *failedLog) add(m ir.Mutation) {
	if f.seen {
		f.records = nil
		f.seen = false
	}
	f.records = append(f.records, m)
}

func (f *failedLog) view() []ir.Mutation {
	f.seen = true
	return cloneMutations(f.records)
}
