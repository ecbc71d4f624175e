package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"google.golang.org/grpc/status"

	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/testutil"
	"github.com/roach88/actorsync/internal/transport"
)

// fakeConn serves one actor of a testutil.ListActor in-process.
//
// In auto mode every applied write pushes an envelope to the open streams,
// the way the reference server does. In manual mode envelopes only flow
// when the test calls deliver. With silentWrites, reads still start with
// the current state but applied writes push nothing.
type fakeConn struct {
	actors       *testutil.ListActor
	actorID      string
	manual       bool
	silentWrites bool

	mu          sync.Mutex
	streams     map[*fakeStream]struct{}
	queries     int
	queryErrs   []error
	mutateErrs  []error
	attempts    []string
	hold        chan struct{}
	inflight    int
	maxInflight int
}

func newFakeConn(actors *testutil.ListActor, actorID string) *fakeConn {
	return &fakeConn{
		actors:  actors,
		actorID: actorID,
		streams: make(map[*fakeStream]struct{}),
	}
}

// failQueries makes the next Query calls fail with errs, in order.
func (c *fakeConn) failQueries(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryErrs = append(c.queryErrs, errs...)
}

// failMutations makes the next write attempts fail with errs before they
// reach the actor.
func (c *fakeConn) failMutations(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutateErrs = append(c.mutateErrs, errs...)
}

// holdWrites parks write attempts until release.
func (c *fakeConn) holdWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
}

func (c *fakeConn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hold != nil {
		close(c.hold)
		c.hold = nil
	}
}

func (c *fakeConn) Mutate(ctx context.Context, path string, body json.RawMessage, key string) (json.RawMessage, error) {
	c.mu.Lock()
	c.attempts = append(c.attempts, key)
	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}
	hold := c.hold
	var injected error
	if len(c.mutateErrs) > 0 {
		injected, c.mutateErrs = c.mutateErrs[0], c.mutateErrs[1:]
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if injected != nil {
		return nil, injected
	}

	method := path[strings.LastIndex(path, ".")+1:]
	resp, err := c.actors.Apply(c.actorID, method, body, key)
	if err != nil {
		st := status.Convert(err)
		return nil, &transport.ApplicationError{
			Code:    st.Code(),
			Message: st.Message(),
			Method:  method,
			ActorID: c.actorID,
		}
	}
	if !c.manual && !c.silentWrites {
		c.deliver()
	}
	return resp, nil
}

func (c *fakeConn) Query(ctx context.Context, q ir.QueryRequest) (Envelopes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queries++
	if len(c.queryErrs) > 0 {
		err := c.queryErrs[0]
		c.queryErrs = c.queryErrs[1:]
		return nil, err
	}
	env, err := c.actors.Envelope(c.actorID)
	if err != nil {
		st := status.Convert(err)
		return nil, &transport.ApplicationError{Code: st.Code(), Message: st.Message(), Method: q.Method, ActorID: c.actorID}
	}

	s := &fakeStream{conn: c, ctx: ctx, ch: make(chan ir.QueryResponse, 64), end: make(chan struct{})}
	c.streams[s] = struct{}{}
	if !c.manual {
		s.ch <- env
	}
	return s, nil
}

// deliver pushes the current state to every open stream and returns how
// many received it.
func (c *fakeConn) deliver() int {
	env, err := c.actors.Envelope(c.actorID)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.streams {
		select {
		case s.ch <- env:
		default:
		}
	}
	return len(c.streams)
}

// endStreams ends every open stream cleanly.
func (c *fakeConn) endStreams() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.streams {
		close(s.end)
		delete(c.streams, s)
	}
}

func (c *fakeConn) openStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *fakeConn) queryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries
}

func (c *fakeConn) attemptKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attempts...)
}

func (c *fakeConn) peakInflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInflight
}

type fakeStream struct {
	conn *fakeConn
	ctx  context.Context
	ch   chan ir.QueryResponse
	end  chan struct{}
	once sync.Once
}

func (s *fakeStream) Next() (ir.QueryResponse, error) {
	select {
	case env := <-s.ch:
		return env, nil
	default:
	}
	select {
	case env := <-s.ch:
		return env, nil
	case <-s.end:
		return ir.QueryResponse{}, io.EOF
	case <-s.ctx.Done():
		return ir.QueryResponse{}, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.streams, s)
		s.conn.mu.Unlock()
	})
	return nil
}

var errConnRefused = errors.New("connection refused")
