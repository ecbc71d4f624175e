// Package testutil provides a reference list actor for tests: an in-memory
// model of the "twentyfive" goal list service and an httptest server that
// speaks the actor HTTP protocol in front of it, with fault injection.
package testutil

import (
	"encoding/json"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/roach88/actorsync/internal/ir"
)

// Service is the reference service name.
const Service = "twentyfive.TwentyFive"

// Method names of the reference service.
const (
	MethodCreateGoalList = "CreateGoalList"
	MethodListGoals      = "ListGoals"
	MethodAddGoal        = "AddGoal"
	MethodMoveGoal       = "MoveGoal"
	MethodDeleteGoal     = "DeleteGoal"
)

// recentKeys bounds how many applied idempotency keys an envelope reports.
const recentKeys = 64

// ActorType returns the kind table of the reference service.
func ActorType() *ir.ActorType {
	return ir.NewActorType("TwentyFive", Service, MethodListGoals,
		MethodCreateGoalList, MethodAddGoal, MethodMoveGoal, MethodDeleteGoal)
}

// GoalRequest is the request of AddGoal, MoveGoal and DeleteGoal.
type GoalRequest struct {
	Goal        string `json:"goal"`
	TargetIndex int    `json:"targetIndex,omitempty"`
}

// ListGoalsResponse is the state the reader returns.
type ListGoalsResponse struct {
	Goals []string `json:"goals"`
}

// ListActor is the in-memory state of every actor of the reference service.
//
// Writes are idempotent per (actor, idempotency key): a retried write with
// a key that was already applied returns the stored response without a
// second effect.
//
// Thread-safety: all methods are safe for concurrent use.
type ListActor struct {
	mu     sync.Mutex
	actors map[string]*actorState
	subs   map[string]map[chan struct{}]struct{}
}

type actorState struct {
	goals   []string
	applied map[string]json.RawMessage
	keys    []string // most recent last
	writes  int
}

// NewListActor creates an empty model. No actor exists until constructed.
func NewListActor() *ListActor {
	return &ListActor{
		actors: make(map[string]*actorState),
		subs:   make(map[string]map[chan struct{}]struct{}),
	}
}

// Construct creates actorID with the given goals, as CreateGoalList plus
// AddGoal calls would.
func (l *ListActor) Construct(actorID string, goals ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.actors[actorID] = &actorState{
		goals:   append([]string{}, goals...),
		applied: make(map[string]json.RawMessage),
	}
	l.notifyLocked(actorID)
}

// Apply executes one write. idempotencyKey may be empty for unary calls.
func (l *ListActor) Apply(actorID, method string, body json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.actors[actorID]
	if st != nil && idempotencyKey != "" {
		if resp, ok := st.applied[idempotencyKey]; ok {
			return resp, nil
		}
	}

	var req GoalRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
		}
	}

	switch method {
	case MethodCreateGoalList:
		prev := st
		st = &actorState{goals: []string{}, applied: make(map[string]json.RawMessage)}
		if prev != nil {
			st.applied, st.keys, st.writes = prev.applied, prev.keys, prev.writes
		}
		l.actors[actorID] = st

	case MethodAddGoal, MethodMoveGoal, MethodDeleteGoal:
		if st == nil {
			return nil, status.Errorf(codes.NotFound, "actor '%s' not found", actorID)
		}
		if req.Goal == "" {
			return nil, status.Error(codes.InvalidArgument, "goal is required")
		}
		if err := st.apply(method, req); err != nil {
			return nil, err
		}

	case MethodListGoals:
		return l.readLocked(actorID)

	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown method '%s'", method)
	}

	st.writes++
	resp := json.RawMessage(`{}`)
	if idempotencyKey != "" {
		st.applied[idempotencyKey] = resp
		st.keys = append(st.keys, idempotencyKey)
		if len(st.keys) > recentKeys {
			st.keys = st.keys[len(st.keys)-recentKeys:]
		}
	}
	l.notifyLocked(actorID)
	return resp, nil
}

func (st *actorState) apply(method string, req GoalRequest) error {
	idx := indexOf(st.goals, req.Goal)
	switch method {
	case MethodAddGoal:
		if idx < 0 {
			st.goals = append(st.goals, req.Goal)
		}
	case MethodDeleteGoal:
		if idx < 0 {
			return status.Errorf(codes.NotFound, "goal '%s' not found", req.Goal)
		}
		st.goals = append(st.goals[:idx], st.goals[idx+1:]...)
	case MethodMoveGoal:
		if idx < 0 {
			return status.Errorf(codes.NotFound, "goal '%s' not found", req.Goal)
		}
		if req.TargetIndex < 0 || req.TargetIndex >= len(st.goals) {
			return status.Errorf(codes.OutOfRange, "target index %d out of range", req.TargetIndex)
		}
		rest := append(append([]string{}, st.goals[:idx]...), st.goals[idx+1:]...)
		moved := make([]string, 0, len(st.goals))
		moved = append(moved, rest[:req.TargetIndex]...)
		moved = append(moved, req.Goal)
		moved = append(moved, rest[req.TargetIndex:]...)
		st.goals = moved
	}
	return nil
}

// Read returns the current ListGoals response of actorID.
func (l *ListActor) Read(actorID string) (json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked(actorID)
}

func (l *ListActor) readLocked(actorID string) (json.RawMessage, error) {
	st := l.actors[actorID]
	if st == nil {
		return nil, status.Errorf(codes.NotFound, "actor '%s' not found", actorID)
	}
	data, err := json.Marshal(ListGoalsResponse{Goals: append([]string{}, st.goals...)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode state: %v", err)
	}
	return data, nil
}

// Envelope returns the current state of actorID with the recently applied
// idempotency keys.
func (l *ListActor) Envelope(actorID string) (ir.QueryResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.readLocked(actorID)
	if err != nil {
		return ir.QueryResponse{}, err
	}
	return ir.QueryResponse{
		Response:        data,
		IdempotencyKeys: append([]string{}, l.actors[actorID].keys...),
	}, nil
}

// Goals returns the goals of actorID, nil if it does not exist.
func (l *ListActor) Goals(actorID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.actors[actorID]
	if st == nil {
		return nil
	}
	return append([]string{}, st.goals...)
}

// Writes returns how many writes took effect on actorID. Deduplicated
// retries are not counted.
func (l *ListActor) Writes(actorID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st := l.actors[actorID]; st != nil {
		return st.writes
	}
	return 0
}

// Watch returns a channel that receives a signal after every change of
// actorID, and a function to stop watching.
func (l *ListActor) Watch(actorID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	if l.subs[actorID] == nil {
		l.subs[actorID] = make(map[chan struct{}]struct{})
	}
	l.subs[actorID][ch] = struct{}{}
	l.mu.Unlock()

	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs[actorID], ch)
	}
}

func (l *ListActor) notifyLocked(actorID string) {
	for ch := range l.subs[actorID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func indexOf(goals []string, goal string) int {
	for i, g := range goals {
		if g == goal {
			return i
		}
	}
	return -1
}
