// Package correlation tracks in-flight requests that are waiting for an
// out-of-band callback.
//
// A Table maps opaque request IDs to pending entries. Each entry is completed
// exactly once, by whichever of these happens first:
//   - Resolve: the callback arrived and carries a payload
//   - Expire: the wait budget elapsed (driven by a per-entry timer)
//   - Fail: the caller gave up, e.g. the downstream forward failed
//
// The losing operation observes a missing entry and returns false. All
// mutations go through a single mutex, so the outcome for a given ID never
// depends on timing.
//
// # Lifecycle
//
//	Register ──► pending ──┬─► Resolve  (payload)
//	                       ├─► Expire   (ErrExpired)
//	                       └─► Fail     (cause)
//
// Entries are never mutated after registration; the timer bounds how long an
// entry can stay in the table.
package correlation
