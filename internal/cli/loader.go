package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/actorsync/internal/compiler"
	"github.com/roach88/actorsync/internal/engine"
	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/session"
	"github.com/roach88/actorsync/internal/store"
	"github.com/roach88/actorsync/internal/transport"
)

// LoadError represents an error that occurred while loading descriptors.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadActorTypes compiles and validates the descriptors at path, a CUE file
// or package directory.
func LoadActorTypes(path string) ([]*ir.ActorType, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("actor types not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "error accessing actor types", Err: err}
	}
	types, err := compiler.LoadActorTypes(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading %s", path), Err: err}
	}
	return types, nil
}

// selectActorType picks name from types. An empty name is allowed when
// there is exactly one type.
func selectActorType(types []*ir.ActorType, name string) (*ir.ActorType, error) {
	if name == "" {
		if len(types) == 1 {
			return types[0], nil
		}
		names := make([]string, len(types))
		for i, at := range types {
			names[i] = at.Name
		}
		return nil, &LoadError{
			Code:    ErrCodeConfig,
			Message: fmt.Sprintf("actor_type is required: choose one of %s", strings.Join(names, ", ")),
		}
	}
	for _, at := range types {
		if at.Name == name {
			return at, nil
		}
	}
	return nil, &LoadError{Code: ErrCodeConfig, Message: fmt.Sprintf("actor type %q not found", name)}
}

// actorType resolves the configured actor type.
func (o *RootOptions) actorType() (*ir.ActorType, error) {
	if o.Config.ActorTypes == "" {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "no actor types configured (set actor_types or ACTORSYNC_ACTOR_TYPES)"}
	}
	types, err := LoadActorTypes(o.Config.ActorTypes)
	if err != nil {
		return nil, err
	}
	return selectActorType(types, o.Config.ActorType)
}

// client returns a transport client for actorID.
func (o *RootOptions) client(at *ir.ActorType, actorID string) (*transport.Client, error) {
	if o.Config.Endpoint == "" {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "no endpoint configured (use --endpoint or ACTORSYNC_ENDPOINT)"}
	}
	return transport.New(o.Config.Endpoint, at.Service, actorID,
		transport.WithLogger(o.Logger),
		transport.WithWarnings(transport.NewWarnings(o.Logger)),
	), nil
}

// namespace returns the mutation log namespace of one actor, or "" when
// persistence is off.
func (o *RootOptions) namespace(at *ir.ActorType, actorID string) string {
	if o.Config.Namespace == "" || o.Config.Database == "" {
		return ""
	}
	return o.Config.Namespace + at.Name + "/" + actorID + "/"
}

// openedSession is a registry-bound session holding a reference on the
// shared mutation log database.
type openedSession struct {
	*session.Session
	opts   *RootOptions
	usesDB bool
}

func (s *openedSession) Close() error {
	err := s.opts.registry().Release(s.Session)
	if s.usesDB {
		err = errors.Join(err, s.opts.releaseDB())
	}
	return err
}

// acquireDB opens the configured database on first use. Sessions shared
// through the registry keep the first store they were bound with, so every
// opener holds the same handle until the last one releases it.
func (o *RootOptions) acquireDB() (*store.Store, error) {
	if o.db == nil {
		st, err := store.Open(o.Config.Database)
		if err != nil {
			return nil, err
		}
		o.db = st
	}
	o.dbRefs++
	return o.db, nil
}

func (o *RootOptions) releaseDB() error {
	if o.dbRefs == 0 {
		return nil
	}
	o.dbRefs--
	if o.dbRefs > 0 {
		return nil
	}
	st := o.db
	o.db = nil
	return st.Close()
}

// sessionParams are the per-command inputs to openSession.
type sessionParams struct {
	actorID string
	request []byte
	metrics *engine.Metrics
}

// registry returns the registry every command binds its sessions through.
func (o *RootOptions) registry() *session.Registry {
	if o.sessions == nil {
		o.sessions = session.NewRegistry()
	}
	return o.sessions
}

// openSession resolves the actor type, opens the mutation log database and
// starts a session.
func (o *RootOptions) openSession(ctx context.Context, cmd *cobra.Command, p sessionParams) (*openedSession, error) {
	if err := o.resolve(cmd); err != nil {
		return nil, err
	}
	at, err := o.actorType()
	if err != nil {
		return nil, err
	}
	client, err := o.client(at, p.actorID)
	if err != nil {
		return nil, err
	}

	opened := &openedSession{opts: o}
	opts := session.Options{
		Type:                   at,
		ID:                     p.actorID,
		Request:                p.request,
		Client:                 client,
		Logger:                 o.Logger,
		Metrics:                p.metrics,
		Retry:                  o.Config.RetryPolicy(),
		KeepQueueOnReadFailure: !o.Config.DrainOnReadFailure,
	}
	if ns := o.namespace(at, p.actorID); ns != "" {
		st, err := o.acquireDB()
		if err != nil {
			return nil, &LoadError{Code: ErrCodeConfig, Message: "failed to open database", Err: err}
		}
		opened.usesDB = true
		opts.KV = st
		opts.Namespace = ns
	}

	s, err := o.registry().Open(ctx, opts)
	if err != nil {
		if opened.usesDB {
			_ = o.releaseDB()
		}
		return nil, err
	}
	opened.Session = s
	return opened, nil
}

// loadFailure turns a resolve or load error into the command's ExitError.
func loadFailure(f *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = f.Error(loadErr.Code, loadErr.Error(), nil)
		return WrapExitError(ExitCommandError, loadErr.Message, err)
	}
	return f.Fail("failed to open session", err)
}
