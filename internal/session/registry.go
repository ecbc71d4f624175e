package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/actorsync/internal/engine"
	"github.com/roach88/actorsync/internal/ir"
)

// Registry hands out one Session per (actor type, actor id).
//
// Binding an actor twice with the same read request and settings returns
// the existing session. A different read request or namespace for an
// already-bound actor is a *engine.ProtocolError: two views of one actor
// would race for its queue.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	session  *Session
	readFP   string
	settings string
	refs     int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func registryKey(actorType, actorID string) string {
	return actorType + "\x00" + actorID
}

// Open returns the session bound to opts.Type and opts.ID, opening it on
// first use. Each successful Open must be paired with Release.
func (r *Registry) Open(ctx context.Context, opts Options) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	req := opts.Request
	if len(req) == 0 {
		req = json.RawMessage(`{}`)
	}
	readFP, err := ir.Fingerprint(ir.DomainReadRequest, req)
	if err != nil {
		return nil, fmt.Errorf("session %q: read request: %w", opts.ID, err)
	}
	settings := ir.SettingsFingerprint(opts.Type.Name, opts.ID, opts.Namespace)
	key := registryKey(opts.Type.Name, opts.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		select {
		case <-e.session.Done():
			delete(r.entries, key)
		default:
			if e.readFP != readFP {
				return nil, &engine.ProtocolError{
					Code:    engine.ErrCodeReadRequestChanged,
					Message: fmt.Sprintf("actor %q is already bound to a different %s request", opts.ID, opts.Type.Reader),
					ActorID: opts.ID,
				}
			}
			if e.settings != settings {
				return nil, &engine.ProtocolError{
					Code:    engine.ErrCodeSettingsChanged,
					Message: fmt.Sprintf("actor %q is already bound with different settings", opts.ID),
					ActorID: opts.ID,
				}
			}
			e.refs++
			return e.session, nil
		}
	}

	s, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.entries[key] = &entry{session: s, readFP: readFP, settings: settings, refs: 1}
	return s, nil
}

// Release drops one reference to s and closes it when none are left.
func (r *Registry) Release(s *Session) error {
	r.mu.Lock()
	key := registryKey(s.Type().Name, s.ActorID())
	e, ok := r.entries[key]
	if !ok || e.session != s {
		r.mu.Unlock()
		return s.Close()
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, key)
	r.mu.Unlock()
	return s.Close()
}

// Len returns the number of bound actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
