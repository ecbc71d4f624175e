package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createList() []ActionStep {
	return []ActionStep{{Action: "CreateGoalList", Args: map[string]any{}}}
}

func goal(name string) map[string]any {
	return map[string]any{"goal": name}
}

func run(t *testing.T, scenario *Scenario) *Result {
	t.Helper()
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestRun_MinimalScenario(t *testing.T) {
	result := run(t, &Scenario{
		Name:    "minimal",
		ActorID: "list-1",
		Setup:   createList(),
		Flow:    []FlowStep{{Invoke: "AddGoal", Args: goal("buy milk")}},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Action: "AddGoal"},
		},
	})

	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, EventInvocation, result.Trace[0].Type)
	assert.Equal(t, "k-1", result.Trace[0].Key)
	assert.Equal(t, EventSettled, result.Trace[1].Type)
	assert.Equal(t, OutcomeOK, result.Trace[1].Outcome)
	assert.Equal(t, []Write{{Kind: "AddGoal", Key: "k-1"}}, result.Writes)
	assert.Equal(t, []any{"buy milk"}, result.State["goals"])
	assert.Empty(t, result.Pending)
}

func TestRun_KeyPrefix(t *testing.T) {
	result := run(t, &Scenario{
		Name:       "prefixed",
		ActorID:    "list-1",
		KeyPrefix:  "req",
		Setup:      createList(),
		Flow:       []FlowStep{{Invoke: "AddGoal", Args: goal("buy milk")}},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 1}},
	})

	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "req-1", result.Writes[0].Key)
}

func TestRun_SetupAppliedDirectly(t *testing.T) {
	result := run(t, &Scenario{
		Name:    "with_setup",
		ActorID: "list-1",
		Setup: append(createList(),
			ActionStep{Action: "AddGoal", Args: goal("buy milk")},
			ActionStep{Action: "AddGoal", Args: goal("walk dog")},
		),
		Flow: []FlowStep{
			{Invoke: "MoveGoal", Args: map[string]any{"goal": "walk dog", "targetIndex": 0}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]any{"goals": []any{"walk dog", "buy milk"}}},
			// Setup writes bypass the engine and never reach the write log.
			{Type: AssertWriteCount, Count: 1},
		},
	})

	assert.True(t, result.Pass, result.Errors)
}

func TestRun_SetupFailure(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{
		Name:       "bad_setup",
		ActorID:    "list-1",
		Setup:      []ActionStep{{Action: "AddGoal", Args: goal("buy milk")}},
		Flow:       []FlowStep{{Invoke: "AddGoal", Args: goal("x")}},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 0 (AddGoal)")
}

func TestRun_ExpectedFailure(t *testing.T) {
	result := run(t, &Scenario{
		Name:    "expected_failure",
		ActorID: "list-1",
		Setup:   createList(),
		Flow: []FlowStep{
			{
				Invoke: "MoveGoal",
				Args:   map[string]any{"goal": "nope", "targetIndex": 0},
				Expect: &ExpectClause{Outcome: OutcomeFailed, Code: "NotFound"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFailedCount, Action: "MoveGoal", Count: 1},
			{Type: AssertPendingCount, Count: 0},
		},
	})

	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, OutcomeFailed, result.Trace[1].Outcome)
	assert.Equal(t, "NotFound", result.Trace[1].Code)
}

func TestRun_OutcomeMismatch(t *testing.T) {
	result := run(t, &Scenario{
		Name:    "outcome_mismatch",
		ActorID: "list-1",
		Setup:   createList(),
		Flow: []FlowStep{
			{Invoke: "DeleteGoal", Args: goal("nope")},
			{
				Invoke: "AddGoal",
				Args:   goal("x"),
				Expect: &ExpectClause{Outcome: OutcomeFailed},
			},
		},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 2}},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "flow[0] DeleteGoal: expected outcome ok, got failed")
	assert.Contains(t, result.Errors[1], "flow[1] AddGoal: expected outcome failed, got ok")
}

func TestRun_CodeMismatch(t *testing.T) {
	result := run(t, &Scenario{
		Name:    "code_mismatch",
		ActorID: "list-1",
		Setup:   createList(),
		Flow: []FlowStep{
			{
				Invoke: "DeleteGoal",
				Args:   goal("nope"),
				Expect: &ExpectClause{Outcome: OutcomeFailed, Code: "OutOfRange"},
			},
		},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 1}},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected code OutOfRange, got NotFound")
}

func TestRun_UnknownKind(t *testing.T) {
	result := run(t, &Scenario{
		Name:       "unknown_kind",
		ActorID:    "list-1",
		Setup:      createList(),
		Flow:       []FlowStep{{Invoke: "RenameGoal", Args: goal("x")}},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 0}},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 2)
	assert.Empty(t, result.Trace[0].Key)
	assert.Equal(t, OutcomeError, result.Trace[1].Outcome)
}

func TestRun_AsyncStepsQueue(t *testing.T) {
	result := run(t, &Scenario{
		Name:    "async",
		ActorID: "list-1",
		Setup:   createList(),
		Flow: []FlowStep{
			{Invoke: "AddGoal", Args: goal("a"), Async: true},
			{Invoke: "AddGoal", Args: goal("b"), Async: true},
			{Invoke: "AddGoal", Args: goal("c")},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Expect: map[string]any{"goals": []any{"a", "b", "c"}}},
			{Type: AssertWriteCount, Count: 3},
		},
	})

	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, []Write{
		{Kind: "AddGoal", Key: "k-1"},
		{Kind: "AddGoal", Key: "k-2"},
		{Kind: "AddGoal", Key: "k-3"},
	}, result.Writes)
}

func TestRun_Faults(t *testing.T) {
	tests := []struct {
		name   string
		faults Faults
		writes int
	}{
		{"failed writes are retried", Faults{FailWrites: 2}, 4},
		{"failed reads are retried", Faults{FailReads: 2}, 2},
		{"ended streams reopen", Faults{EndStreamsAfter: 1}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := run(t, &Scenario{
				Name:    "faults",
				ActorID: "list-1",
				Setup:   createList(),
				Faults:  tt.faults,
				Flow: []FlowStep{
					{Invoke: "AddGoal", Args: goal("buy milk")},
					{Invoke: "AddGoal", Args: goal("walk dog")},
				},
				Assertions: []Assertion{
					{Type: AssertWriteCount, Count: tt.writes},
					{Type: AssertFinalState, Expect: map[string]any{"goals": []any{"buy milk", "walk dog"}}},
				},
			})
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:    "determinism",
		ActorID: "list-1",
		Setup:   createList(),
		Flow: []FlowStep{
			{Invoke: "AddGoal", Args: goal("a"), Async: true},
			{Invoke: "AddGoal", Args: goal("b")},
			{Invoke: "DeleteGoal", Args: goal("a")},
		},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 3}},
	}

	first := run(t, scenario)
	second := run(t, scenario)

	assert.True(t, first.Pass, first.Errors)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Writes, second.Writes)
	assert.Equal(t, first.State, second.State)
}

func TestRun_FreshServerPerRun(t *testing.T) {
	scenario := &Scenario{
		Name:       "fresh",
		ActorID:    "list-1",
		Setup:      createList(),
		Flow:       []FlowStep{{Invoke: "AddGoal", Args: goal("x")}},
		Assertions: []Assertion{{Type: AssertFinalState, Expect: map[string]any{"goals": []any{"x"}}}},
	}

	assert.True(t, run(t, scenario).Pass)
	assert.True(t, run(t, scenario).Pass)
}

func TestRun_WithSpecs(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "actors.cue")
	require.NoError(t, os.WriteFile(spec, []byte(`package actors

actor: TwentyFive: {
	service: "twentyfive.TwentyFive"
	reader:  "ListGoals"
	mutations: ["CreateGoalList", "AddGoal"]
}

actor: Counter: {
	service: "counter.Counter"
	reader:  "Get"
	mutations: ["Increment"]
}
`), 0644))

	base := Scenario{
		Name:       "with_specs",
		ActorID:    "list-1",
		Specs:      []string{spec},
		Setup:      createList(),
		Flow:       []FlowStep{{Invoke: "AddGoal", Args: goal("x")}},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 1}},
	}

	t.Run("actor type selected", func(t *testing.T) {
		s := base
		s.ActorType = "TwentyFive"
		result := run(t, &s)
		assert.True(t, result.Pass, result.Errors)
	})

	t.Run("kind outside the descriptor", func(t *testing.T) {
		s := base
		s.ActorType = "TwentyFive"
		s.Flow = []FlowStep{{Invoke: "DeleteGoal", Args: goal("x")}}
		s.Assertions = []Assertion{{Type: AssertWriteCount, Count: 0}}
		result := run(t, &s)
		assert.False(t, result.Pass)
		assert.Equal(t, OutcomeError, result.Trace[1].Outcome)
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := Run(context.Background(), &base)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "actor_type is required")
	})

	t.Run("unknown actor type", func(t *testing.T) {
		s := base
		s.ActorType = "Basket"
		_, err := Run(context.Background(), &s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `actor type "Basket" not found`)
	})
}

func TestRun_AssertionFailuresReported(t *testing.T) {
	result := run(t, &Scenario{
		Name:    "assertion_failures",
		ActorID: "list-1",
		Setup:   createList(),
		Flow:    []FlowStep{{Invoke: "AddGoal", Args: goal("x")}},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Action: "DeleteGoal"},
			{Type: AssertFinalState, Expect: map[string]any{"goals": []any{}}},
		},
	})

	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")

	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}

func TestResult_AddTrace(t *testing.T) {
	result := NewResult()
	result.AddInvocationTrace("AddGoal", "k-1", goal("x"), 1)
	result.AddSettledTrace("AddGoal", "k-1", OutcomeFailed, "NotFound", 2)

	assert.Equal(t, []TraceEvent{
		{Type: EventInvocation, Kind: "AddGoal", Key: "k-1", Args: goal("x"), Seq: 1},
		{Type: EventSettled, Kind: "AddGoal", Key: "k-1", Outcome: OutcomeFailed, Code: "NotFound", Seq: 2},
	}, result.Trace)
}
