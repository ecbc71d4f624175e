package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/actorsync/internal/compiler"
	"github.com/roach88/actorsync/internal/engine"
	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/retry"
	"github.com/roach88/actorsync/internal/session"
	"github.com/roach88/actorsync/internal/store"
	"github.com/roach88/actorsync/internal/testutil"
	"github.com/roach88/actorsync/internal/transport"
)

// DefaultTimeout bounds a scenario run when ctx has no deadline.
const DefaultTimeout = 10 * time.Second

// Harness holds the state of one scenario run.
type Harness struct {
	server  *testutil.Server
	session *session.Session
	keys    *recordingKeys
	clock   *engine.Clock
	logger  *slog.Logger
}

// recordingKeys remembers every key it hands out so the trace can name the
// key of each invocation.
type recordingKeys struct {
	inner engine.KeyGenerator

	mu   sync.Mutex
	keys []string
}

func (r *recordingKeys) Generate() string {
	key := r.inner.Generate()
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return key
}

func (r *recordingKeys) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func (r *recordingKeys) at(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.keys) {
		return ""
	}
	return r.keys[i]
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh reference server with its own
// in-memory mutation log.
//
// Execution flow:
// 1. Resolve the actor type
// 2. Start the server, apply setup writes and arm faults
// 3. Open a session and issue the flow
// 4. Wait until every invocation has been observed
// 5. Collect state and the write log, then evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return RunWithLogger(ctx, scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with the engine logging to logger.
func RunWithLogger(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	actorType, err := resolveActorType(scenario)
	if err != nil {
		return nil, err
	}

	srv := testutil.StartServer()
	defer srv.Close()

	for i, step := range scenario.Setup {
		body, err := json.Marshal(emptyIfNil(step.Args))
		if err != nil {
			return nil, fmt.Errorf("setup step %d: encode args: %w", i, err)
		}
		if _, err := srv.Actors.Apply(scenario.ActorID, step.Action, body, ""); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
	}
	srv.FailWrites(scenario.Faults.FailWrites)
	srv.FailReads(scenario.Faults.FailReads)
	srv.EndStreamsAfter(scenario.Faults.EndStreamsAfter)

	prefix := scenario.KeyPrefix
	if prefix == "" {
		prefix = "k"
	}
	h := &Harness{
		server: srv,
		keys:   &recordingKeys{inner: engine.NewSequenceGenerator(prefix)},
		clock:  engine.NewClock(),
		logger: logger,
	}

	h.session, err = session.Open(ctx, session.Options{
		Type:         actorType,
		ID:           scenario.ActorID,
		Namespace:    scenario.Name + "/",
		Client:       srv.Client(scenario.ActorID, transport.WithLogger(logger)),
		KV:           store.NewMemory(),
		Logger:       logger,
		KeyGenerator: h.keys,
		Retry: retry.Policy{
			InitialInterval: time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			Logger:          logger,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer h.session.Close()

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	if err := h.session.WaitIdle(ctx); err != nil {
		return nil, fmt.Errorf("waiting for the flow to be observed: %w", err)
	}
	if err := h.collect(actorType, result); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func resolveActorType(s *Scenario) (*ir.ActorType, error) {
	if len(s.Specs) == 0 {
		return testutil.ActorType(), nil
	}

	var all []*ir.ActorType
	for _, path := range s.Specs {
		types, err := compiler.LoadActorTypes(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		all = append(all, types...)
	}
	if s.ActorType == "" {
		if len(all) != 1 {
			return nil, fmt.Errorf("actor_type is required: specs describe %d actor types", len(all))
		}
		return all[0], nil
	}
	for _, at := range all {
		if at.Name == s.ActorType {
			return at, nil
		}
	}
	return nil, fmt.Errorf("actor type %q not found in specs", s.ActorType)
}

type asyncCall struct {
	step FlowStep
	key  string
	done chan error
}

// executeFlow issues the flow steps one at a time. An async step returns
// as soon as its key has been generated, so the next step queues behind it.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	var async []asyncCall

	for i, step := range flow {
		body, err := json.Marshal(emptyIfNil(step.Args))
		if err != nil {
			return fmt.Errorf("flow step %d: encode args: %w", i, err)
		}

		n := h.keys.count()
		done := make(chan error, 1)
		go func() {
			_, err := h.session.Invoke(ctx, step.Invoke, body, nil)
			done <- err
		}()

		if step.Async {
			if err := h.waitForKey(ctx, n, done); err != nil {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			key := h.keys.at(n)
			result.AddInvocationTrace(step.Invoke, key, step.Args, h.clock.Next())
			async = append(async, asyncCall{step: step, key: key, done: done})
			continue
		}

		var invokeErr error
		select {
		case invokeErr = <-done:
		case <-ctx.Done():
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, ctx.Err())
		}
		key := h.keys.at(n)
		result.AddInvocationTrace(step.Invoke, key, step.Args, h.clock.Next())
		h.settle(i, step, key, invokeErr, result)
	}

	for i, call := range async {
		select {
		case err := <-call.done:
			h.settle(i, call.step, call.key, err, result)
		case <-ctx.Done():
			return fmt.Errorf("async %s: %w", call.step.Invoke, ctx.Err())
		}
	}
	return nil
}

// waitForKey waits until the invocation started at key index n has its
// key, or has already returned without one.
func (h *Harness) waitForKey(ctx context.Context, n int, done chan error) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for h.keys.count() <= n {
		select {
		case err := <-done:
			// Returned before generating a key: unknown kind or closed.
			done <- err
			return nil
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Harness) settle(index int, step FlowStep, key string, err error, result *Result) {
	outcome, code := classify(err)
	result.AddSettledTrace(step.Invoke, key, outcome, code, h.clock.Next())

	want := OutcomeOK
	if step.Expect != nil {
		want = step.Expect.Outcome
	}
	if outcome != want {
		msg := fmt.Sprintf("flow[%d] %s: expected outcome %s, got %s", index, step.Invoke, want, outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
		return
	}
	if step.Expect != nil && step.Expect.Code != "" && step.Expect.Code != code {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected code %s, got %s", index, step.Invoke, step.Expect.Code, code))
	}

	h.logger.Info("flow step settled",
		"step", index,
		"kind", step.Invoke,
		"idempotency_key", key,
		"outcome", outcome,
	)
}

func classify(err error) (outcome, code string) {
	if err == nil {
		return OutcomeOK, ""
	}
	if appErr, ok := transport.AsApplicationError(err); ok {
		return OutcomeFailed, appErr.Code.String()
	}
	if errors.Is(err, engine.ErrAborted) {
		return OutcomeAborted, ""
	}
	return OutcomeError, ""
}

// collect records the final state, the write log and the per-kind lists.
func (h *Harness) collect(actorType *ir.ActorType, result *Result) error {
	data, _ := h.session.Snapshot()
	if data != nil {
		var state map[string]any
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("decode final state: %w", err)
		}
		result.State = state
	}

	for _, req := range h.server.Requests() {
		if req.IdempotencyKey == "" || req.Path == transport.QueryPath {
			continue
		}
		result.Writes = append(result.Writes, Write{
			Kind: req.Path[strings.LastIndex(req.Path, ".")+1:],
			Key:  req.IdempotencyKey,
		})
	}

	for _, kind := range actorType.KindNames() {
		if n := len(h.session.Failed(kind)); n > 0 {
			result.Failed[kind] = n
		}
		if n := len(h.session.Pending(kind)); n > 0 {
			result.Pending[kind] = n
		}
	}
	return nil
}

func emptyIfNil(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
