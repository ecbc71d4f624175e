package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventInvocation:
				fmt.Fprintf(&buf, "  [%d] %s %s %v\n", i+1, event.Kind, event.Key, event.Args)
			case EventSettled:
				fmt.Fprintf(&buf, "  [%d] %s %s -> %s %s\n", i+1, event.Kind, event.Key, event.Outcome, event.Code)
			}
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains an invocation matching
// the specified action and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == EventInvocation && event.Kind == assertion.Action {
			if matchArgs(event.Args, assertion.Args) {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed), and
// a kind may repeat: each expected entry consumes the next matching
// invocation.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, action := range assertion.Actions {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Type == EventInvocation && event.Kind == action {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("no %s after position %d", action, pos),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertWriteCount checks the number of write requests the server received.
// An empty action counts every kind.
func assertWriteCount(writes []Write, assertion Assertion) error {
	count := 0
	for _, w := range writes {
		if assertion.Action == "" || w.Kind == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		what := "writes"
		if assertion.Action != "" {
			what = assertion.Action + " writes"
		}
		return &AssertionError{
			Type:     AssertWriteCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d %s (keys %v)", count, what, writeKeys(writes, assertion.Action)),
		}
	}
	return nil
}

// assertListCount checks a per-kind count of failed or pending records.
// An empty action sums every kind.
func assertListCount(kindCounts map[string]int, assertion Assertion) error {
	count := 0
	if assertion.Action == "" {
		for _, n := range kindCounts {
			count += n
		}
	} else {
		count = kindCounts[assertion.Action]
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("%d records for %q", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d records", count),
		}
	}
	return nil
}

// assertFinalState checks the observed state with subset semantics: only
// fields named in Expect are compared.
func assertFinalState(state map[string]any, assertion Assertion) error {
	if state == nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "an observed state",
			Actual:   "no envelope was received",
		}
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := state[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in state: %v", key, state),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v", key, actualValue),
			}
		}
	}

	return nil
}

// stateValuesEqual compares a YAML-decoded expected value with a
// JSON-decoded actual one. The expected value is passed through JSON first
// so integers compare equal to float64 and nested maps have the same shape.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	normalized, err := normalizeJSON(expected)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(normalized, actual)
}

func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual map[string]any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}

	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !reflect.DeepEqual(actualVal, expectedVal) {
			return false
		}
	}

	return true
}

func writeKeys(writes []Write, kind string) []string {
	var keys []string
	for _, w := range writes {
		if kind == "" || w.Kind == kind {
			keys = append(keys, w.Key)
		}
	}
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertWriteCount:
			err = assertWriteCount(result.Writes, assertion)
		case AssertFailedCount:
			err = assertListCount(result.Failed, assertion)
		case AssertPendingCount:
			err = assertListCount(result.Pending, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
