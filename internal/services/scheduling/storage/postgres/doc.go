// Package postgres stores the scheduling event log in Postgres through a
// pgx connection pool. It is an alternative to the SQLite journal for
// deployments that already run Postgres.
package postgres
