package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Store is the persistence API used by the scheduler, dispatcher and audit sink.
//
// Writes are serialized by each driver; ids are assigned on insert, are
// monotonic and are never reused.
type Store interface {
	InsertReminder(ctx context.Context, destination, text string, deadline time.Time) (int64, error)
	// ListReminders returns every pending reminder ordered by id.
	ListReminders(ctx context.Context) ([]Reminder, error)
	// ListRemindersByDestination returns the destination's reminders ordered by id.
	ListRemindersByDestination(ctx context.Context, destination string) ([]Reminder, error)
	// DeleteReminder is idempotent: deleting a missing id is not an error.
	DeleteReminder(ctx context.Context, id int64) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	// Compact folds write-ahead state (journal, WAL) into the main file.
	Compact(ctx context.Context) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": Path is a prefix; files are <prefix>.reminders.* and <prefix>.audit.log
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Reminder is one pending deadline reminder.
type Reminder struct {
	ID          int64
	Destination string
	Text        string
	Deadline    time.Time
}

// AuditEntry is one line of the audit trail ("CONFIG", "ADMIN", ...).
type AuditEntry struct {
	At      time.Time
	Tag     string
	Actor   string
	Message string
}

// Line renders the entry as "<RFC3339> [TAG] message".
func (e AuditEntry) Line() string {
	return e.At.UTC().Format("2006-01-02T15:04:05.000Z07:00") + " [" + e.Tag + "] " + e.Message
}
