// Package harness runs YAML scenarios against the reference list actor.
//
// A scenario opens a real session over HTTP to an in-process
// testutil.Server, applies optional setup writes and fault knobs, invokes
// the flow steps through the engine and then checks assertions against
// the settled trace, the server's write log and the final observed state.
//
// # Scenario Format
//
//	name: buy_milk_walk_dog
//	description: "Two goals land in invocation order"
//	actor_id: list-1
//	specs:                       # optional; defaults to the reference type
//	  - ../actors/twentyfive.cue
//	actor_type: TwentyFive
//	setup:                       # applied directly, bypassing the engine
//	  - action: CreateGoalList
//	    args: {}
//	faults:
//	  fail_writes: 1
//	flow:
//	  - invoke: AddGoal
//	    args: { goal: "buy milk" }
//	  - invoke: DeleteGoal
//	    args: { goal: "nope" }
//	    expect: { outcome: failed, code: NotFound }
//	assertions:
//	  - type: final_state
//	    expect: { goals: ["buy milk"] }
//	  - type: write_count
//	    action: AddGoal
//	    count: 2
//
// # Assertion Types
//
//   - trace_contains: an invocation of action with matching args (subset)
//   - trace_order: invocations appear in the given order
//   - write_count: the server received count write requests (retries included)
//   - failed_count: the kind's failed list has count entries
//   - pending_count: count mutations were still pending after the run
//   - final_state: the observed state matches expect (subset)
//
// # Deterministic Testing
//
// Idempotency keys come from a sequence generator ("k-1", "k-2", ... or
// key_prefix) and invocations are issued one at a time, so the trace and
// the write log are reproducible and can be compared against golden files.
package harness
