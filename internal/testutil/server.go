package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/transport"
)

// Request is one request the server received.
type Request struct {
	Path           string
	ActorID        string
	IdempotencyKey string
}

// Server is an httptest server in front of a ListActor.
//
// Fault injection knobs (FailWrites, FailReads, EndStreamsAfter, HoldWrites)
// apply to subsequent requests.
type Server struct {
	*httptest.Server
	Actors *ListActor

	mu         sync.Mutex
	failWrites int
	failReads  int
	endAfter   int
	gate       chan struct{}
	requests   []Request
	waiting    atomic.Int32
	streams    atomic.Int32
}

// NewServer starts a server over a fresh ListActor. It is closed when the
// test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := StartServer()
	t.Cleanup(s.Close)
	return s
}

// StartServer starts a server outside of a test. Callers must Close it.
func StartServer() *Server {
	s := &Server{Actors: NewListActor()}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close releases held writes and shuts the server down.
func (s *Server) Close() {
	s.Unhold()
	s.Server.Close()
}

// FailWrites makes the next n writes fail with HTTP 503 and no status
// header (a transient, retryable failure).
func (s *Server) FailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

// FailReads makes the next n /query requests fail with HTTP 503.
func (s *Server) FailReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// EndStreamsAfter makes streaming reads end cleanly after n envelopes.
// Zero keeps them open.
func (s *Server) EndStreamsAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endAfter = n
}

// HoldWrites parks every write until AllowWrites or Unhold.
func (s *Server) HoldWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{}, 1024)
	}
}

// AllowWrites lets n held writes proceed.
func (s *Server) AllowWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; s.gate != nil && i < n; i++ {
		select {
		case s.gate <- struct{}{}:
		default:
		}
	}
}

// Unhold releases every held write and stops holding.
func (s *Server) Unhold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Waiting returns how many writes are currently held.
func (s *Server) Waiting() int { return int(s.waiting.Load()) }

// OpenStreams returns how many streaming reads are being served.
func (s *Server) OpenStreams() int { return int(s.streams.Load()) }

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Attempts returns how many write requests carried idempotencyKey.
func (s *Server) Attempts(idempotencyKey string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.IdempotencyKey == idempotencyKey {
			n++
		}
	}
	return n
}

// Client returns a transport client for actorID.
func (s *Server) Client(actorID string, opts ...transport.Option) *transport.Client {
	return transport.New(s.URL, Service, actorID, opts...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get(transport.HeaderActorID)
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Path:           r.URL.Path,
		ActorID:        actorID,
		IdempotencyKey: r.Header.Get(transport.HeaderIdempotencyKey),
	})
	s.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if got := r.Header.Get(transport.HeaderServiceName); got != Service {
		writeStatus(w, status.Errorf(codes.Unimplemented, "unknown service '%s'", got))
		return
	}
	if actorID == "" {
		writeStatus(w, status.Error(codes.InvalidArgument, "missing actor id"))
		return
	}

	if r.URL.Path == transport.QueryPath {
		s.serveQuery(w, r, actorID)
		return
	}

	method, ok := strings.CutPrefix(r.URL.Path, "/"+Service+".")
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveUnary(w, r, actorID, method)
}

func (s *Server) serveUnary(w http.ResponseWriter, r *http.Request, actorID, method string) {
	key := r.Header.Get(transport.HeaderIdempotencyKey)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	gate := s.gate
	fail := false
	if method != MethodListGoals && s.failWrites > 0 {
		s.failWrites--
		fail = true
	}
	s.mu.Unlock()

	if fail {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if gate != nil && method != MethodListGoals {
		s.waiting.Add(1)
		select {
		case <-gate:
		case <-r.Context().Done():
			s.waiting.Add(-1)
			return
		}
		s.waiting.Add(-1)
	}

	resp, err := s.Actors.Apply(actorID, method, body, key)
	if err != nil {
		writeStatus(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request, actorID string) {
	var q ir.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeStatus(w, status.Errorf(codes.InvalidArgument, "decode query: %v", err))
		return
	}
	if q.Method != MethodListGoals {
		writeStatus(w, status.Errorf(codes.Unimplemented, "unknown reader '%s'", q.Method))
		return
	}

	s.mu.Lock()
	fail := s.failReads > 0
	if fail {
		s.failReads--
	}
	endAfter := s.endAfter
	s.mu.Unlock()
	if fail {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	// Watch before the first read so no change is missed.
	changes, stop := s.Actors.Watch(actorID)
	defer stop()

	env, err := s.Actors.Envelope(actorID)
	if err != nil {
		writeStatus(w, err)
		return
	}

	s.streams.Add(1)
	defer s.streams.Add(-1)

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	sent := 0
	write := func(prefix string, env ir.QueryResponse) bool {
		data, err := json.Marshal(env)
		if err != nil {
			return false
		}
		if _, err := io.WriteString(w, prefix+string(data)+"\n"); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		sent++
		return true
	}

	if !write("[", env) {
		return
	}
	for endAfter == 0 || sent < endAfter {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
		}
		env, err := s.Actors.Envelope(actorID)
		if err != nil {
			break
		}
		if !write(",", env) {
			return
		}
	}
	_, _ = io.WriteString(w, "]\n")
}

// writeStatus reports err the way the actor protocol does: grpc-status and
// grpc-message headers on a non-2xx response.
func writeStatus(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	w.Header().Set(transport.HeaderGRPCStatus, strconv.Itoa(int(st.Code())))
	if msg := st.Message(); msg != "" {
		w.Header().Set(transport.HeaderGRPCMessage, url.PathEscape(msg))
	}
	w.WriteHeader(httpStatus(st.Code()))
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition, codes.AlreadyExists:
		return http.StatusBadRequest
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
