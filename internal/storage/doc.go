// Package storage keeps the run history of executed jobs.
//
// Backends:
//   - file: append-only JSON Lines, compacted to the newest HistorySize runs
//   - sqlite: a single table in a SQLite database (modernc.org/sqlite, pure Go)
package storage
