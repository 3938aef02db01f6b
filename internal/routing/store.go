package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"relaybot/internal/config"
	"relaybot/internal/relayerr"
	logx "relaybot/pkg/logx"
)

// AuditFunc receives tagged audit lines ("CONFIG", "ADMIN"). It must not block.
type AuditFunc func(ctx context.Context, tag, message string)

// Store is the routing document on disk plus its live in-memory snapshot.
//
// Readers copy a pointer under an RLock; writers serialize on saveMu and
// only publish a snapshot after it has been durably written.
type Store struct {
	path  string
	admin string
	log   logx.Logger
	audit AuditFunc

	mu       sync.RWMutex
	state    *State
	lastHash uint64

	saveMu sync.Mutex

	subsMu sync.Mutex
	subs   []chan State
}

// NewStore creates a store backed by path. admin seeds the admin set when
// the document does not exist yet.
func NewStore(path, admin string, log logx.Logger) *Store {
	st := DefaultState("")
	return &Store{
		path:  path,
		admin: admin,
		log:   log.With(logx.String("comp", "routing")),
		state: &st,
	}
}

func (s *Store) Path() string { return s.path }

// SetAuditor installs the audit sink for CONFIG lines.
func (s *Store) SetAuditor(fn AuditFunc) { s.audit = fn }

func (s *Store) auditf(ctx context.Context, tag, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.log.Audit(tag, msg)
	if s.audit != nil {
		s.audit(ctx, tag, msg)
	}
}

// Snapshot returns a copy of the live state without touching the file.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	return st.Clone()
}

// Load re-reads the document and makes it live.
//
// A missing file is replaced by DefaultState(admin), persisted before
// returning. Corrupt content makes an empty default live and returns an
// ErrStorage error; the corrupt file is left untouched.
//
// Loads serialize with writers so a reader holding old bytes never
// commits over a newer save.
func (s *Store) Load(ctx context.Context) (State, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) (State, error) {
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st := DefaultState(s.admin)
		if err := s.write(st); err != nil {
			s.commit(st, 0)
			return st.Clone(), relayerr.Storage("create routing document", err)
		}
		s.auditf(ctx, "CONFIG", "Created default %s", filepath.Base(s.path))
		return s.loadLocked(ctx)
	case err != nil:
		return s.Snapshot(), relayerr.Storage("read routing document", err)
	}

	var st State
	if err := config.Decode(s.path, b, &st); err != nil {
		empty := DefaultState("")
		s.commit(empty, 0)
		s.log.Warn("routing document is corrupt; using empty default", logx.String("path", s.path), logx.Err(err))
		return empty.Clone(), relayerr.Storage("parse routing document", err)
	}
	st = st.Clone()
	s.commit(st, config.HashBytes(b))
	return st.Clone(), nil
}

// readLocked decodes the document without making it live. A missing file
// goes through loadLocked so the default gets created.
func (s *Store) readLocked(ctx context.Context) (State, error) {
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.loadLocked(ctx)
	case err != nil:
		return State{}, relayerr.Storage("read routing document", err)
	}
	var st State
	if err := config.Decode(s.path, b, &st); err != nil {
		return State{}, relayerr.Storage("parse routing document", err)
	}
	return st.Clone(), nil
}

func (s *Store) commit(st State, hash uint64) {
	cp := st.Clone()
	s.mu.Lock()
	s.state = &cp
	s.lastHash = hash
	s.mu.Unlock()
}

// Save persists st atomically and then reloads it to normalize.
// On failure the live state is unchanged.
func (s *Store) Save(ctx context.Context, st State) (State, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveLocked(ctx, st)
}

func (s *Store) saveLocked(ctx context.Context, st State) (State, error) {
	if err := s.write(st.Clone()); err != nil {
		s.log.Error("routing save failed", logx.String("path", s.path), logx.Err(err))
		return s.Snapshot(), relayerr.Storage("save routing document", err)
	}
	s.auditf(ctx, "CONFIG", "Saved %s", filepath.Base(s.path))
	out, err := s.loadLocked(ctx)
	if err == nil {
		s.publish(out)
	}
	return out, err
}

// Update applies fn to a copy of the freshest durable state and saves it.
// If fn returns an error nothing is written and that error is returned.
// A corrupt or unreadable document is never overwritten: the read error
// is returned, fn is not called and the live state is kept as it was.
func (s *Store) Update(ctx context.Context, fn func(st *State) error) (State, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	cur, err := s.readLocked(ctx)
	if err != nil {
		s.log.Warn("routing update refused; document unreadable", logx.String("path", s.path), logx.Err(err))
		return s.Snapshot(), err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur, err
	}
	return s.saveLocked(ctx, next)
}

// write does temp file + fsync + rename so readers never observe a partial document.
func (s *Store) write(st State) error {
	data, err := config.Encode(s.path, st)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Subscribe returns reloaded snapshots (latest wins) and an unsubscribe func.
func (s *Store) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			for i, c := range s.subs {
				if c == ch {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

func (s *Store) publish(st State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st.Clone():
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st.Clone():
		default:
		}
	}
}

// Watch reloads the document on out-of-band edits until ctx is done.
// Concurrent command saves and external edits race; the last write observed wins.
func (s *Store) Watch(ctx context.Context) error {
	return config.WatchFile(ctx, s.path, s.log, func() { s.reloadFromWatch(ctx) })
}

func (s *Store) reloadFromWatch(ctx context.Context) {
	b, err := os.ReadFile(s.path)
	if err == nil {
		h := config.HashBytes(b)
		s.mu.RLock()
		unchanged := h == s.lastHash
		s.mu.RUnlock()
		if unchanged {
			s.log.Debug("routing document unchanged; skipping reload")
			return
		}
	}
	st, err := s.Load(ctx)
	if err != nil {
		s.log.Warn("routing reload failed", logx.Err(err))
		return
	}
	s.log.Info("routing document reloaded due to file change", logx.Int("groups", len(st.Groups)))
	s.publish(st)
}

// MarshalIndent renders st the way .listconfig shows it.
func MarshalIndent(st State) (string, error) {
	b, err := json.MarshalIndent(st.Clone(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
