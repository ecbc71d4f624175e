package harness

// TraceEvent is one entry of a scenario trace: an invocation entering the
// engine or its settlement.
type TraceEvent struct {
	Type    string         `json:"type"` // "invocation" or "settled"
	Kind    string         `json:"kind"`
	Key     string         `json:"key,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Code    string         `json:"code,omitempty"`
	Seq     int64          `json:"seq"`
}

// Trace event types.
const (
	EventInvocation = "invocation"
	EventSettled    = "settled"
)

// Outcomes of a settled invocation.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
	OutcomeError   = "error"
)

// Write is one write request the server received.
type Write struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains invocations and settlements in flow order.
	Trace []TraceEvent `json:"trace"`

	// Writes is the server's write log, retries included.
	Writes []Write `json:"writes"`

	// State is the final observed state.
	State map[string]any `json:"state,omitempty"`

	// Failed and Pending count records per kind after the run.
	Failed  map[string]int `json:"failed,omitempty"`
	Pending map[string]int `json:"pending,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Writes:  []Write{},
		Errors:  []string{},
		Failed:  make(map[string]int),
		Pending: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace adds an invocation to the trace.
func (r *Result) AddInvocationTrace(kind, key string, args map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type: EventInvocation,
		Kind: kind,
		Key:  key,
		Args: args,
		Seq:  seq,
	})
}

// AddSettledTrace adds a settlement to the trace.
func (r *Result) AddSettledTrace(kind, key, outcome, code string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:    EventSettled,
		Kind:    kind,
		Key:     key,
		Outcome: outcome,
		Code:    code,
		Seq:     seq,
	})
}
