// Package store provides the outbound push ledger using SQLite.
//
// The flat JSON files remain the source of truth for users and announcements.
// The ledger only records what was pushed:
//
//   - Relay: one user-to-user message from the relay flow, sent or failed
//   - Delivery: one announcement push attempt to one recipient
//
// Rows are never updated. A recipient that fails twice and then succeeds has
// three delivery rows.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// The schema is created on open. NewSQLiteStore(":memory:") gives a private
// in-memory database for tests.
//
// # Testing
//
// NewMockStore returns an in-memory Ledger for packages that only need to
// observe what was recorded. Setting MockStore.Err makes every write fail.
package store
