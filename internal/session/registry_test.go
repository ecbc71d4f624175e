package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actorsync/internal/engine"
	"github.com/roach88/actorsync/internal/testutil"
)

func TestRegistry_SameBindingSharesSession(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Actors.Construct("list-1")
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close() })

	opts := testOptions(srv, "list-1")
	opts.Request = json.RawMessage(`{"a":1,"b":2}`)
	first, err := r.Open(context.Background(), opts)
	require.NoError(t, err)

	// Key order and whitespace do not change the binding.
	opts.Request = json.RawMessage(`{ "b": 2, "a": 1 }`)
	second, err := r.Open(context.Background(), opts)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ReadRequestChanged(t *testing.T) {
	srv := testutil.NewServer(t)
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close() })

	opts := testOptions(srv, "list-1")
	_, err := r.Open(context.Background(), opts)
	require.NoError(t, err)

	opts.Request = json.RawMessage(`{"page":2}`)
	_, err = r.Open(context.Background(), opts)

	var pe *engine.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, engine.ErrCodeReadRequestChanged, pe.Code)
	assert.Equal(t, "list-1", pe.ActorID)
}

func TestRegistry_SettingsChanged(t *testing.T) {
	srv := testutil.NewServer(t)
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close() })

	opts := testOptions(srv, "list-1")
	_, err := r.Open(context.Background(), opts)
	require.NoError(t, err)

	opts.Namespace = "other"
	_, err = r.Open(context.Background(), opts)

	var pe *engine.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, engine.ErrCodeSettingsChanged, pe.Code)
}

func TestRegistry_DistinctActorsAreIndependent(t *testing.T) {
	srv := testutil.NewServer(t)
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close() })

	a, err := r.Open(context.Background(), testOptions(srv, "list-1"))
	require.NoError(t, err)
	opts := testOptions(srv, "list-2")
	opts.Request = json.RawMessage(`{"page":2}`)
	b, err := r.Open(context.Background(), opts)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ReleaseClosesLastReference(t *testing.T) {
	srv := testutil.NewServer(t)
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close() })
	opts := testOptions(srv, "list-1")

	s, err := r.Open(context.Background(), opts)
	require.NoError(t, err)
	_, err = r.Open(context.Background(), opts)
	require.NoError(t, err)

	require.NoError(t, r.Release(s))
	select {
	case <-s.Done():
		t.Fatal("session closed while still referenced")
	default:
	}

	require.NoError(t, r.Release(s))
	<-s.Done()
	assert.Equal(t, 0, r.Len())

	// A released binding may be re-opened with a different request.
	opts.Request = json.RawMessage(`{"page":2}`)
	again, err := r.Open(context.Background(), opts)
	require.NoError(t, err)
	assert.NotSame(t, s, again)
}

func TestRegistry_RejectsInvalidReadRequest(t *testing.T) {
	srv := testutil.NewServer(t)
	r := NewRegistry()

	opts := testOptions(srv, "list-1")
	opts.Request = json.RawMessage(`{not json`)
	_, err := r.Open(context.Background(), opts)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}
