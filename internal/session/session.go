package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/actorsync/internal/engine"
	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/retry"
	"github.com/roach88/actorsync/internal/store"
	"github.com/roach88/actorsync/internal/transport"
)

// Options configures Open.
type Options struct {
	// Type is the actor type's kind table. Required.
	Type *ir.ActorType

	// ID is the actor id. Required.
	ID string

	// Namespace prefixes the mutation log keys. Empty disables persistence.
	Namespace string

	// Request is the read request body. Defaults to {}.
	Request json.RawMessage

	// Client talks to the actor's server. Ignored when Conn is set.
	Client *transport.Client

	// Conn overrides the wire, mainly for tests.
	Conn engine.Conn

	// KV stores the mutation log. Nil disables persistence.
	KV store.KV

	Logger       *slog.Logger
	Metrics      *engine.Metrics
	Retry        retry.Policy
	KeyGenerator engine.KeyGenerator

	// KeepQueueOnReadFailure stops a failing read from starting queued
	// mutations. By default the head of the queue runs, so a constructor
	// can create the actor the read is failing on.
	KeepQueueOnReadFailure bool
}

func (o *Options) validate() error {
	if o.Type == nil {
		return &engine.ProtocolError{Code: engine.ErrCodeInvalidActorType, Message: "actor type is required", ActorID: o.ID}
	}
	if o.ID == "" {
		return errors.New("session: actor id is required")
	}
	if o.Conn == nil && o.Client == nil {
		return fmt.Errorf("session %q: client is required", o.ID)
	}
	return nil
}

// Session is an open binding of one actor to one read request.
type Session struct {
	engine *engine.Engine
	logger *slog.Logger

	changes chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
}

// Open starts a session: persisted mutations are recovered and the
// streaming read begins.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn := opts.Conn
	if conn == nil {
		conn = engine.HTTPConn(opts.Client)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(opts.Metrics),
		engine.WithRetryPolicy(opts.Retry),
		engine.WithKeyGenerator(opts.KeyGenerator),
		engine.WithDrainOnReadFailure(!opts.KeepQueueOnReadFailure),
	}
	if opts.KV != nil && opts.Namespace != "" {
		engineOpts = append(engineOpts, engine.WithMutationLog(store.NewMutationLog(opts.KV, opts.Namespace)))
	}

	e, err := engine.New(opts.Type, opts.ID, opts.Request, conn, engineOpts...)
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}

	s := &Session{
		engine:  e,
		logger:  logger.With("actor_type", opts.Type.Name, "actor_id", opts.ID),
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.forwardChanges()

	s.logger.Debug("session opened", "namespace", opts.Namespace)
	return s, nil
}

// forwardChanges coalesces engine broadcasts into the Changes channel.
func (s *Session) forwardChanges() {
	defer s.wg.Done()
	for {
		ch := s.engine.Changed()
		select {
		case <-s.stop:
			return
		case <-ch:
		}
		select {
		case s.changes <- struct{}{}:
		default:
		}
	}
}

// Close stops the read and aborts outstanding invokes. Queued mutations
// stay in the mutation log. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.engine.Close()
		close(s.stop)
		s.wg.Wait()
		close(s.done)
		s.logger.Debug("session closed")
	})
	return err
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// ActorID returns the bound actor id.
func (s *Session) ActorID() string { return s.engine.ActorID() }

// Type returns the actor type.
func (s *Session) Type() *ir.ActorType { return s.engine.ActorType() }

// Snapshot returns the latest state bytes and whether the view is loaded.
// The bytes outlive a read failure: they are the last state seen.
func (s *Session) Snapshot() (json.RawMessage, bool) {
	snap := s.engine.Snapshot()
	return snap.Response, snap.Loaded
}

// Loading reports whether the view is waiting for an envelope.
func (s *Session) Loading() bool {
	return !s.engine.Snapshot().Loaded
}

// Err returns the last read failure, nil once an envelope arrived.
func (s *Session) Err() error {
	return s.engine.Snapshot().Err
}

// Changes receives a value after one or more state changes. Bursts are
// coalesced.
func (s *Session) Changes() <-chan struct{} { return s.changes }

// Invoke issues a mutation and waits for its outcome.
func (s *Session) Invoke(ctx context.Context, kind string, request, metadata json.RawMessage) (json.RawMessage, error) {
	return s.engine.Invoke(ctx, kind, request, metadata)
}

// Pending returns the kind's not-yet-observed mutations.
func (s *Session) Pending(kind string) []ir.Mutation { return s.engine.Pending(kind) }

// Failed returns the kind's terminally failed mutations and marks the list
// seen.
func (s *Session) Failed(kind string) []ir.Mutation { return s.engine.Failed(kind) }

// Recovered returns mutations left behind by a previous process.
func (s *Session) Recovered(kind string) []*engine.Recovered { return s.engine.Recovered(kind) }

// WaitIdle blocks until every issued mutation has been observed.
func (s *Session) WaitIdle(ctx context.Context) error { return s.engine.WaitIdle(ctx) }
