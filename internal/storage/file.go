package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"relaybot/internal/relayerr"
	logx "relaybot/pkg/logx"
)

const compactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.log                 (append-only, one line per entry)
//   - <prefix>.reminders.snapshot.json   (periodic snapshot, includes next id)
//   - <prefix>.reminders.journal.jsonl   (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Compact.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File

	reminders map[int64]Reminder
	nextID    int64
	writes    int
}

type fileSnapshot struct {
	NextID    int64         `json:"next_id"`
	Reminders []journalItem `json:"reminders"`
}

type journalItem struct {
	Op          string `json:"op,omitempty"` // "put" | "del"
	ID          int64  `json:"id"`
	Destination string `json:"destination,omitempty"`
	Text        string `json:"text,omitempty"`
	DeadlineMS  int64  `json:"deadline,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, relayerr.Storage("create storage dir", err)
	}

	auditPath := prefix + ".audit.log"
	snapPath := prefix + ".reminders.snapshot.json"
	journalPath := prefix + ".reminders.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, relayerr.Storage("open audit log", err)
	}

	s := &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		reminders:    map[int64]Reminder{},
		nextID:       1,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = af.Close()
		return nil, relayerr.Storage("load reminder snapshot", err)
	}
	bad, err := s.replayJournal(journalPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = af.Close()
		return nil, relayerr.Storage("replay reminder journal", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, relayerr.Storage("open reminder journal", err)
	}
	s.journalFile = jf
	if bad > 0 {
		// Rewrite so new appends do not land on a torn line.
		if err := s.compactLocked(); err != nil {
			_ = jf.Close()
			_ = af.Close()
			return nil, relayerr.Storage("compact reminder journal", err)
		}
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("reminders", len(s.reminders)))
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, it := range snap.Reminders {
		s.reminders[it.ID] = it.reminder()
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return nil
}

func (s *fileStore) replayJournal(path string) (bad int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var it journalItem
		if err := json.Unmarshal(sc.Bytes(), &it); err != nil || it.ID <= 0 {
			// torn line from a crash mid-append
			s.log.Warn("reminder journal: skipping bad line", logx.Err(err))
			bad++
			continue
		}
		s.apply(it)
	}
	return bad, sc.Err()
}

func (s *fileStore) apply(it journalItem) {
	switch it.Op {
	case "del":
		delete(s.reminders, it.ID)
	default:
		s.reminders[it.ID] = it.reminder()
	}
	if it.ID >= s.nextID {
		s.nextID = it.ID + 1
	}
}

func (it journalItem) reminder() Reminder {
	return Reminder{
		ID:          it.ID,
		Destination: it.Destination,
		Text:        it.Text,
		Deadline:    time.UnixMilli(it.DeadlineMS).UTC(),
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		errs = append(errs, s.compactLocked())
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) InsertReminder(ctx context.Context, destination, text string, deadline time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, relayerr.Storage("insert reminder", ErrClosed)
	}

	it := journalItem{
		Op:          "put",
		ID:          s.nextID,
		Destination: destination,
		Text:        text,
		DeadlineMS:  deadline.UnixMilli(),
	}
	if err := s.appendLocked(it); err != nil {
		return 0, relayerr.Storage("insert reminder", err)
	}
	s.apply(it)
	return it.ID, nil
}

func (s *fileStore) DeleteReminder(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return nil
	}
	if s.journalFile == nil {
		return relayerr.Storage("delete reminder", ErrClosed)
	}
	it := journalItem{Op: "del", ID: id}
	if err := s.appendLocked(it); err != nil {
		return relayerr.Storage("delete reminder", err)
	}
	s.apply(it)
	return nil
}

func (s *fileStore) appendLocked(it journalItem) error {
	b, err := json.Marshal(it)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journalFile.Write(b); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("reminder compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListReminders(ctx context.Context) ([]Reminder, error) {
	return s.list(ctx, func(Reminder) bool { return true })
}

func (s *fileStore) ListRemindersByDestination(ctx context.Context, destination string) ([]Reminder, error) {
	return s.list(ctx, func(r Reminder) bool { return r.Destination == destination })
}

func (s *fileStore) list(ctx context.Context, keep func(Reminder) bool) ([]Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return relayerr.Storage("append audit", ErrClosed)
	}
	if _, err := io.WriteString(s.auditFile, e.Line()+"\n"); err != nil {
		return relayerr.Storage("append audit", err)
	}
	return nil
}

func (s *fileStore) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return relayerr.Storage("compact", ErrClosed)
	}
	return relayerr.Storage("compact", s.compactLocked())
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{NextID: s.nextID, Reminders: make([]journalItem, 0, len(s.reminders))}
	for _, r := range s.reminders {
		snap.Reminders = append(snap.Reminders, journalItem{
			ID:          r.ID,
			Destination: r.Destination,
			Text:        r.Text,
			DeadlineMS:  r.Deadline.UnixMilli(),
		})
	}
	sort.Slice(snap.Reminders, func(i, j int) bool { return snap.Reminders[i].ID < snap.Reminders[j].ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}
