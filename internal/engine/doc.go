// Package engine keeps a local view of one remote actor consistent while
// mutations are issued against it.
//
// ARCHITECTURE:
//
// Two activities share one mutex-guarded state per actor:
//
//   - Dispatcher (dispatcher.go): Invoke mints an idempotency key, records
//     the mutation as pending, and either starts it or parks it in the
//     actor-wide FIFO queue. Each started mutation retries forever with
//     capped backoff until the server accepts it or rejects it terminally.
//   - Subscription (subscription.go): one streaming read per actor. Each
//     envelope carries the actor state and the idempotency keys whose
//     effects that state reflects; it releases the next queued mutation.
//
// The flush barrier (barrier.go) couples the two: while a read is being
// (re)established, writes queue and the reader waits for the write on the
// wire to settle, so the first envelope of the new read includes it.
//
// CRITICAL PATTERNS:
//
// At most one in flight:
// The gate check and the insertion into running happen in one critical
// section. A mutation starts only when nothing runs, nothing is queued
// ahead of it, the barrier is unarmed, and the previous write has been
// observed on the read.
//
// Key stability:
// The idempotency key is minted once in Invoke. Retries, queueing,
// persistence and recovery all reuse it.
//
// Logical clock:
// Settled writes and opened reads are stamped from Clock. A write stamped
// before a read was opened is reflected by that read.
package engine
