// Package migrations embeds the SQL schema history of the SQLite event log
// and read model.
package migrations
