// Package storage persists pending reminders and the audit trail.
//
// Two drivers are available:
//   - "file": JSON snapshot + append-only journal, no cgo, no database
//   - "sqlite": SQLite database file, schema managed by golang-migrate
package storage
