// Package storage persists the two pieces of state that must survive a
// restart: the catch-up watermark and the append-only delivery ledger.
//
// Drivers:
//   - "file": two plain files next to each other, <path>_last_timestamp and
//     <path>_messages, compatible with the original cache layout
//   - "sqlite": a single SQLite database (modernc.org/sqlite, pure Go)
//   - "none" or "": nothing is persisted
package storage
