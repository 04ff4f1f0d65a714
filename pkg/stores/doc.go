// Package stores provides persistence for stead.
//
// StateFile keeps the snapshot of the last apply as one JSON document that is
// replaced atomically. SQLiteStore keeps the run history (runs and the outcome
// of every action) in SQLite with WAL mode and embedded migrations.
package stores
