package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind is a typed handle on one mutation kind.
type Kind[Rq, Rs any] struct {
	Name string
}

// Invoke encodes req, invokes the kind on s and decodes the response.
// An empty response decodes to the zero Rs.
func (k Kind[Rq, Rs]) Invoke(ctx context.Context, s *Session, req Rq, metadata json.RawMessage) (Rs, error) {
	var zero Rs

	body, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("encode %s request: %w", k.Name, err)
	}
	resp, err := s.Invoke(ctx, k.Name, body, metadata)
	if err != nil {
		return zero, err
	}
	if len(resp) == 0 {
		return zero, nil
	}

	var out Rs
	if err := json.Unmarshal(resp, &out); err != nil {
		return zero, fmt.Errorf("decode %s response: %w", k.Name, err)
	}
	return out, nil
}

// Decode decodes the session's current state. ok is false until the first
// envelope has arrived.
func Decode[T any](s *Session) (T, bool, error) {
	var out T
	data, loaded := s.Snapshot()
	if data == nil {
		return out, false, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, loaded, fmt.Errorf("decode state of %q: %w", s.ActorID(), err)
	}
	return out, loaded, nil
}
