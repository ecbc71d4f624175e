package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one run against the reference server.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE actor-type descriptor files. Paths are relative to
	// the scenario file. Empty uses the reference type.
	Specs []string `yaml:"specs,omitempty"`

	// ActorType picks a descriptor from Specs. Required when Specs
	// describes more than one type.
	ActorType string `yaml:"actor_type,omitempty"`

	// ActorID is the actor the session binds to.
	ActorID string `yaml:"actor_id"`

	// KeyPrefix prefixes generated idempotency keys. Defaults to "k".
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// Setup writes are applied to the server directly, before the session
	// opens. They are assumed to succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Faults are armed after setup.
	Faults Faults `yaml:"faults,omitempty"`

	// Flow contains the invocations, issued in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the run.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep represents a single direct write.
type ActionStep struct {
	Action string         `yaml:"action"`
	Args   map[string]any `yaml:"args"`
}

// Faults configures the server's fault injection.
type Faults struct {
	FailWrites      int `yaml:"fail_writes,omitempty"`
	FailReads       int `yaml:"fail_reads,omitempty"`
	EndStreamsAfter int `yaml:"end_streams_after,omitempty"`
}

// FlowStep represents a step in the main test flow.
type FlowStep struct {
	// Invoke is the mutation kind.
	Invoke string `yaml:"invoke"`

	// Args is the request body.
	Args map[string]any `yaml:"args"`

	// Async issues the invocation without waiting for it to settle; the
	// next step may then queue behind it. Async settlements are traced
	// after the flow, in flow order.
	Async bool `yaml:"async,omitempty"`

	// Expect specifies the expected outcome. Nil expects ok.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected settlement.
type ExpectClause struct {
	// Outcome is ok, failed or aborted.
	Outcome string `yaml:"outcome"`

	// Code is the gRPC code name of a failed outcome, e.g. NotFound.
	Code string `yaml:"code,omitempty"`
}

// Assertion validates the trace, the write log or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is the mutation kind (trace_contains, write_count,
	// failed_count, pending_count).
	Action string `yaml:"action,omitempty"`

	// Args are the expected invocation args (trace_contains). Subset match.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect contains expected state fields (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (write_count, failed_count,
	// pending_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected invocation order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertWriteCount    = "write_count"
	AssertFailedCount   = "failed_count"
	AssertPendingCount  = "pending_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Spec paths are
// resolved relative to the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) {
			scenario.Specs[i] = filepath.Join(base, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	if s.Faults.FailWrites < 0 || s.Faults.FailReads < 0 || s.Faults.EndStreamsAfter < 0 {
		return fmt.Errorf("faults must be non-negative")
	}

	for i, step := range s.Setup {
		if step.Action == "" {
			return fmt.Errorf("setup[%d]: action is required", i)
		}
	}

	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use empty map if no args)", i)
		}
		if step.Expect != nil {
			switch step.Expect.Outcome {
			case OutcomeOK, OutcomeFailed, OutcomeAborted:
			default:
				return fmt.Errorf("flow[%d].expect: unknown outcome %q", i, step.Expect.Outcome)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertWriteCount, AssertPendingCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFailedCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for failed_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for failed_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
