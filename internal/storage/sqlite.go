package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"relaybot/internal/relayerr"
	logx "relaybot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type reminderRow struct {
	ID          int64  `db:"id"`
	Destination string `db:"chatId"`
	Text        string `db:"message"`
	DeadlineMS  int64  `db:"deadline"`
}

func (r reminderRow) reminder() Reminder {
	return Reminder{
		ID:          r.ID,
		Destination: r.Destination,
		Text:        r.Text,
		Deadline:    time.UnixMilli(r.DeadlineMS).UTC(),
	}
}

var reminderColumns = []string{"id", "chatId", "message", "deadline"}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, relayerr.Storage("create storage dir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, relayerr.Storage("open sqlite", err)
	}
	// SQLite prefers a single writer; one connection also keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, relayerr.Storage("migrate sqlite", err)
	}

	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: sqlx.NewDb(db, "sqlite"), log: log}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("cannot open migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("cannot create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("cannot create migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("cannot migrate up: %w", err)
	}
	// m.Close would close db through the driver; the store keeps using it.
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertReminder(ctx context.Context, destination, text string, deadline time.Time) (int64, error) {
	res, err := sq.Insert("reminders").
		Columns("chatId", "message", "deadline").
		Values(destination, text, deadline.UnixMilli()).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return 0, relayerr.Storage("insert reminder", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, relayerr.Storage("insert reminder id", err)
	}
	return id, nil
}

func (s *sqliteStore) ListReminders(ctx context.Context) ([]Reminder, error) {
	return s.selectReminders(ctx, sq.Select(reminderColumns...).From("reminders").OrderBy("id"))
}

func (s *sqliteStore) ListRemindersByDestination(ctx context.Context, destination string) ([]Reminder, error) {
	return s.selectReminders(ctx, sq.Select(reminderColumns...).
		From("reminders").
		Where(sq.Eq{"chatId": destination}).
		OrderBy("id"))
}

func (s *sqliteStore) selectReminders(ctx context.Context, q sq.SelectBuilder) ([]Reminder, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("could not build query: %w", err)
	}
	var rows []reminderRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, relayerr.Storage("list reminders", err)
	}
	out := make([]Reminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.reminder())
	}
	return out, nil
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id int64) error {
	_, err := sq.Delete("reminders").Where(sq.Eq{"id": id}).RunWith(s.db).ExecContext(ctx)
	return relayerr.Storage("delete reminder", err)
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := sq.Insert("audit").
		Columns("at", "tag", "actor", "message").
		Values(e.At.UTC().Format(time.RFC3339Nano), e.Tag, nullStr(e.Actor), e.Message).
		RunWith(s.db).
		ExecContext(ctx)
	return relayerr.Storage("append audit", err)
}

func (s *sqliteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return relayerr.Storage("compact", err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
