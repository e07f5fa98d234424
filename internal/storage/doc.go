// Package storage persists the campaign configuration and the delivery ledger.
//
// It holds:
//   - Schedules, campaigns and destinations (mutable configuration rows)
//   - Per schedule-platform fired markers (the idempotency boundary)
//   - The append-only send-attempt ledger
//   - Rate limiter audit rows
//
// Every operation takes an explicit Scope so tenants can never bleed into
// each other through process-global state.
package storage
