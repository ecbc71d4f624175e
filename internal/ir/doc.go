// Package ir provides the shared data model for actorsync.
//
// This package contains type definitions and the canonical JSON encoding
// used for request fingerprints. All other internal packages import ir;
// ir imports nothing internal. This keeps the data model the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Request, response and state payloads are opaque JSON (json.RawMessage)
//   - Idempotency keys are minted once per logical mutation and never rewritten
//   - Logical clocks (seq) only for ordering, never wall-clock timestamps
//   - The per-kind table (ActorType) drives the engine; there is no per-kind code
package ir
