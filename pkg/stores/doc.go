// Package stores persists run history for scenepipe.
//
// SQLiteStore records every run and the result of each executed stage in a
// local SQLite database, migrated on open from embedded SQL files. It
// implements engine.StateManager, so the orchestrator writes to it as the run
// progresses, and it backs the history command.
//
// Timestamps and durations are stored as integer nanoseconds so they survive a
// round trip unchanged.
package stores
