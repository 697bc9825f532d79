// Package sqlite implements the scheduling event log, projection outbox and
// read model on SQLite (modernc.org/sqlite, no cgo).
//
// The event log and the read model live in separate database files so the
// read model can be dropped and rebuilt without touching history.
package sqlite
