// Package store provides durable key-value persistence for the companion.
//
// # Architecture
//
// Every piece of state that must survive process death lives here: the
// session token, the panic flags and hold progress, the last known location,
// user settings and the custom contact list. Other components keep only
// in-memory projections rebuilt from the store on start and updated by
// write-through.
//
// Implementations:
//
//   - SQLiteStore: modernc.org/sqlite, one kv table, one connection
//   - MockStore: in-memory, for unit tests
//
// # Atomicity
//
// Set writes one key. SetMany, Remove and ClearAll touch several keys inside
// one transaction, so a reader never sees half of a multi-key update. The
// panic state machine relies on this to keep panic.triggered and
// panic.progress consistent.
//
// # Typed Access
//
// Values are stored as strings. The typed helpers decode them and fall back
// to a caller-supplied default when a key is absent or malformed:
//
//	triggered := store.GetBool(ctx, s, store.KeyPanicTriggered, false)
//	progress := store.GetFloat(ctx, s, store.KeyPanicProgress, 0)
//
// A malformed value is logged and never propagated as an error.
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
