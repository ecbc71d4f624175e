package ir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// KindSpec describes one mutation kind of an actor type.
//
// Path is the write path, always "/" + service + "." + name.
type KindSpec struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ActorType is the static table an engine is parameterized over: one
// service, one streaming read method, and a closed set of mutation kinds.
type ActorType struct {
	Name    string     `json:"name"`
	Service string     `json:"service"`
	Reader  string     `json:"reader"`
	Kinds   []KindSpec `json:"kinds"`
}

// NewActorType builds an ActorType, deriving each kind's wire path from
// the service name.
func NewActorType(name, service, reader string, kinds ...string) *ActorType {
	t := &ActorType{
		Name:    name,
		Service: service,
		Reader:  reader,
		Kinds:   make([]KindSpec, 0, len(kinds)),
	}
	for _, k := range kinds {
		t.Kinds = append(t.Kinds, KindSpec{Name: k, Path: MethodPath(service, k)})
	}
	return t
}

// MethodPath returns the '/package.service.method' path for a method.
func MethodPath(service, method string) string {
	return "/" + service + "." + method
}

// Kind looks up a kind by name.
func (t *ActorType) Kind(name string) (KindSpec, bool) {
	for _, k := range t.Kinds {
		if k.Name == name {
			return k, true
		}
	}
	return KindSpec{}, false
}

// KindNames returns the kind names in declaration order.
func (t *ActorType) KindNames() []string {
	names := make([]string, len(t.Kinds))
	for i, k := range t.Kinds {
		names[i] = k.Name
	}
	return names
}

// Validate checks the table for empty names and duplicate kinds.
func (t *ActorType) Validate() error {
	if strings.TrimSpace(t.Service) == "" {
		return fmt.Errorf("actor type %q: service is required", t.Name)
	}
	if strings.TrimSpace(t.Reader) == "" {
		return fmt.Errorf("actor type %q: reader is required", t.Name)
	}
	if len(t.Kinds) == 0 {
		return fmt.Errorf("actor type %q: at least one mutation kind is required", t.Name)
	}
	seen := make(map[string]bool, len(t.Kinds))
	for _, k := range t.Kinds {
		if k.Name == "" {
			return fmt.Errorf("actor type %q: empty mutation kind name", t.Name)
		}
		if k.Name == t.Reader {
			return fmt.Errorf("actor type %q: %q is both reader and mutation", t.Name, k.Name)
		}
		if seen[k.Name] {
			return fmt.Errorf("actor type %q: duplicate mutation kind %q", t.Name, k.Name)
		}
		seen[k.Name] = true
	}
	return nil
}

// Mutation is one logical write against an actor.
//
// IdempotencyKey is generated once when the mutation is invoked and reused
// for every retry, including retries after a process restart. Minting a new
// key for the same logical mutation would break at-most-once effect.
//
// IsLoading and Error are bookkeeping for consumers: IsLoading is true
// while an attempt is on the wire, Error holds the last failure seen for
// the record (transport or application).
type Mutation struct {
	Kind           string          `json:"kind"`
	Request        json.RawMessage `json:"request"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	IsLoading      bool            `json:"is_loading"`
	Error          error           `json:"-"`
}

// Clone returns a copy that shares no mutable state with m.
func (m *Mutation) Clone() Mutation {
	c := *m
	if m.Request != nil {
		c.Request = append(json.RawMessage(nil), m.Request...)
	}
	if m.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), m.Metadata...)
	}
	return c
}

// QueryRequest is the envelope POSTed to /query. Request carries the
// encoded read request; it is base64 on the wire.
type QueryRequest struct {
	Method  string `json:"method"`
	Request []byte `json:"request"`
}

// QueryResponse is one decoded envelope of the streaming read: the actor
// state plus the idempotency keys whose effects the state reflects.
type QueryResponse struct {
	Response        []byte   `json:"response"`
	IdempotencyKeys []string `json:"idempotencyKeys"`
}
