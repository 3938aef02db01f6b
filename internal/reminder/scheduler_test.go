package reminder

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/clock"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

var wib = time.FixedZone("UTC+7", 7*3600)

type sent struct {
	to   string
	text string
}

type recSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recSender) Send(_ context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{to: to, text: text})
	return r.err
}

func (r *recSender) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

type memStore struct {
	mu      sync.Mutex
	next    int64
	rows    map[int64]storage.Reminder
	deletes []int64
}

func newMemStore() *memStore { return &memStore{rows: map[int64]storage.Reminder{}} }

func (m *memStore) InsertReminder(_ context.Context, dest, text string, deadline time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.rows[m.next] = storage.Reminder{ID: m.next, Destination: dest, Text: text, Deadline: deadline.UTC()}
	return m.next, nil
}

func (m *memStore) ListReminders(context.Context) ([]storage.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Reminder, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteReminder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	m.deletes = append(m.deletes, id)
	return nil
}

func (m *memStore) has(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

func newTestScheduler(t *testing.T, now time.Time, st Store, snd *recSender) (*Scheduler, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(now)
	s := New(Options{
		Store:    st,
		Sender:   snd,
		Clock:    clk,
		Location: wib,
		Log:      logx.Nop(),
	})
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, clk
}

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts.UTC()
}

func TestCreate_FiveMinutesOut_OnlyDeadline(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	snd := &recSender{}
	s, clk := newTestScheduler(t, mustUTC(t, "2025-09-18T11:55:00Z"), st, snd)
	deadline := time.Date(2025, 9, 18, 19, 0, 0, 0, wib)

	r, err := s.Create(context.Background(), "628111@c.us", "UTS", deadline)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got := snd.all()
	if len(got) != 1 || got[0].text != `✅ Reminder diset untuk "UTS" pada 18/9/2025, 19.00.00` {
		t.Fatalf("unexpected confirmation: %+v", got)
	}

	pending := clk.Pending()
	if len(pending) != 1 || !pending[0].Equal(mustUTC(t, "2025-09-18T12:00:00Z")) {
		t.Fatalf("expected only the deadline timer, got %v", pending)
	}

	clk.Advance(5 * time.Minute)
	got = snd.all()
	if len(got) != 2 || got[1].text != `🚨 "UTS" TELAH MEMASUKI DEADLINE sekarang!` || got[1].to != "628111@c.us" {
		t.Fatalf("unexpected deadline send: %+v", got)
	}
	if st.has(r.ID) {
		t.Fatalf("reminder %d should be deleted after deadline", r.ID)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("registry should be empty")
	}
}

func TestCreate_FortyFiveMinutesOut_SkipsBoundaryWarning(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	snd := &recSender{}
	s, clk := newTestScheduler(t, mustUTC(t, "2025-09-18T11:15:00Z"), st, snd)
	deadline := mustUTC(t, "2025-09-18T12:00:00Z")

	if _, err := s.Create(context.Background(), "628111@c.us", "UTS", deadline); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending := clk.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 30m warning and deadline, got %v", pending)
	}
	if !pending[0].Equal(mustUTC(t, "2025-09-18T11:30:00Z")) {
		t.Fatalf("warning at %v", pending[0])
	}

	clk.AdvanceTo(mustUTC(t, "2025-09-18T11:30:00Z"))
	got := snd.all()
	if len(got) != 2 || got[1].text != "⏰ Reminder 30 menit sebelum deadline!\n📌 UTS" {
		t.Fatalf("unexpected warning: %+v", got)
	}

	p := s.Pending()
	if len(p) != 1 || len(p[0].Milestones) != 1 || p[0].Milestones[0].Before != 0 {
		t.Fatalf("only the deadline milestone should remain: %+v", p)
	}
}

func TestWarningsFireInOrder(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	snd := &recSender{}
	now := mustUTC(t, "2025-09-18T10:00:00Z")
	s, clk := newTestScheduler(t, now, st, snd)

	if _, err := s.Create(context.Background(), "x@c.us", "rapat", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(3 * time.Hour)

	got := snd.all()
	want := []string{
		"✅ Reminder diset",
		"⏰ Reminder 45 menit",
		"⏰ Reminder 30 menit",
		"🚨 \"rapat\"",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sends, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if !strings.HasPrefix(got[i].text, w) {
			t.Fatalf("send %d = %q, want prefix %q", i, got[i].text, w)
		}
	}
}

// lagSender advances the fake clock while a confirmation is in flight,
// like a gateway that takes a while to answer.
type lagSender struct {
	recSender
	clk *clock.Fake
	lag time.Duration
}

func (l *lagSender) Send(ctx context.Context, to, text string) error {
	if strings.HasPrefix(text, "✅") {
		l.clk.Advance(l.lag)
	}
	return l.recSender.Send(ctx, to, text)
}

func TestCreate_SlowConfirmationDoesNotShiftMilestones(t *testing.T) {
	t.Parallel()

	start := mustUTC(t, "2025-09-18T11:00:00Z")
	clk := clock.NewFake(start)
	snd := &lagSender{clk: clk, lag: 2 * time.Minute}
	s := New(Options{Store: newMemStore(), Sender: snd, Clock: clk, Location: wib, Log: logx.Nop()})
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	if _, err := s.Create(context.Background(), "x@c.us", "UTS", mustUTC(t, "2025-09-18T12:00:00Z")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !clk.Now().Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("confirmation should have taken 2m, clock at %v", clk.Now())
	}

	want := []time.Time{
		mustUTC(t, "2025-09-18T11:15:00Z"),
		mustUTC(t, "2025-09-18T11:30:00Z"),
		mustUTC(t, "2025-09-18T12:00:00Z"),
	}
	pending := clk.Pending()
	if len(pending) != len(want) {
		t.Fatalf("pending = %v, want %v", pending, want)
	}
	for i := range want {
		if !pending[i].Equal(want[i]) {
			t.Fatalf("timer %d at %v, want %v", i, pending[i], want[i])
		}
	}
	p := s.Pending()
	if len(p) != 1 || len(p[0].Milestones) != 3 {
		t.Fatalf("unexpected registry: %+v", p)
	}
	for i, m := range p[0].Milestones {
		if !m.At.Equal(want[i]) {
			t.Fatalf("milestone %d at %v, want %v", i, m.At, want[i])
		}
	}

	clk.AdvanceTo(want[2])
	got := snd.all()
	prefixes := []string{"✅", "⏰ Reminder 45 menit", "⏰ Reminder 30 menit", "🚨"}
	if len(got) != len(prefixes) {
		t.Fatalf("got %d sends: %+v", len(got), got)
	}
	for i, w := range prefixes {
		if !strings.HasPrefix(got[i].text, w) {
			t.Fatalf("send %d = %q, want prefix %q", i, got[i].text, w)
		}
	}
}

func TestRecoverAll_SameFireTimesAsContinuousRun(t *testing.T) {
	t.Parallel()

	start := mustUTC(t, "2025-09-18T09:00:00Z")
	deadlines := []time.Time{
		start.Add(2 * time.Hour),
		start.Add(40 * time.Minute),
		start.Add(3 * time.Hour),
	}

	// Continuous run: created at start, observed 20 minutes later.
	st := newMemStore()
	cont, contClk := newTestScheduler(t, start, st, &recSender{})
	for i, d := range deadlines {
		if _, err := cont.Create(context.Background(), "a@c.us", "r"+string(rune('0'+i)), d); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	contClk.Advance(20 * time.Minute)
	want := contClk.Pending()

	// Restart at the same moment from the same store.
	restartSnd := &recSender{}
	rec, recClk := newTestScheduler(t, start.Add(20*time.Minute), st, restartSnd)
	n, err := rec.RecoverAll(context.Background())
	if err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}
	if n != len(deadlines) {
		t.Fatalf("armed %d, want %d", n, len(deadlines))
	}
	got := recClk.Pending()

	if len(got) != len(want) {
		t.Fatalf("fire times differ:\n got %v\nwant %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("fire time %d: got %v want %v", i, got[i], want[i])
		}
	}
	if len(restartSnd.all()) != 0 {
		t.Fatalf("recovery must not announce: %+v", restartSnd.all())
	}
}

func TestRecoverAll_DeletesElapsedWithoutSending(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	now := mustUTC(t, "2025-09-18T12:00:00Z")
	staleID, _ := st.InsertReminder(context.Background(), "a@c.us", "old", now.Add(-time.Minute))
	exactID, _ := st.InsertReminder(context.Background(), "a@c.us", "now", now)
	liveID, _ := st.InsertReminder(context.Background(), "a@c.us", "later", now.Add(10*time.Minute))

	snd := &recSender{}
	s, clk := newTestScheduler(t, now, st, snd)
	n, err := s.RecoverAll(context.Background())
	if err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("armed %d, want 1", n)
	}
	if st.has(staleID) || st.has(exactID) {
		t.Fatalf("elapsed reminders should be deleted")
	}
	if !st.has(liveID) {
		t.Fatalf("live reminder should be kept")
	}
	if len(snd.all()) != 0 {
		t.Fatalf("stale recovery must not send: %+v", snd.all())
	}
	if len(clk.Pending()) != 1 {
		t.Fatalf("expected one deadline timer, got %v", clk.Pending())
	}
}

func TestCancel_SuppressesAllSends(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	snd := &recSender{}
	now := mustUTC(t, "2025-09-18T10:00:00Z")
	s, clk := newTestScheduler(t, now, st, snd)

	r, err := s.Create(context.Background(), "a@c.us", "batal", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Cancel(context.Background(), r.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	clk.Advance(2 * time.Hour)

	if got := snd.all(); len(got) != 1 {
		t.Fatalf("only the confirmation should be sent, got %+v", got)
	}
	if st.has(r.ID) {
		t.Fatalf("canceled reminder still stored")
	}
	if len(clk.Pending()) != 0 {
		t.Fatalf("timers left: %v", clk.Pending())
	}

	// Unknown and repeated ids are fine.
	if err := s.Cancel(context.Background(), r.ID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if err := s.Cancel(context.Background(), 999); err != nil {
		t.Fatalf("Cancel unknown: %v", err)
	}
}

func TestDeadline_DeletesEvenWhenSendFails(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	snd := &recSender{err: errors.New("gateway down")}
	now := mustUTC(t, "2025-09-18T10:00:00Z")
	s, clk := newTestScheduler(t, now, st, snd)

	r, err := s.Create(context.Background(), "a@c.us", "x", now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(10 * time.Minute)

	if st.has(r.ID) {
		t.Fatalf("reminder must be deleted after a failed deadline send")
	}
	if len(snd.all()) != 2 {
		t.Fatalf("expected confirmation and deadline attempts, got %+v", snd.all())
	}
}

func TestRearmReplacesTimers(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	snd := &recSender{}
	now := mustUTC(t, "2025-09-18T10:00:00Z")
	s, clk := newTestScheduler(t, now, st, snd)

	r := storage.Reminder{ID: 1, Destination: "a@c.us", Text: "x", Deadline: now.Add(10 * time.Minute)}
	if err := s.Arm(context.Background(), r, false); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := s.Arm(context.Background(), r, false); err != nil {
		t.Fatalf("re-Arm: %v", err)
	}
	if len(clk.Pending()) != 1 {
		t.Fatalf("re-arming must not duplicate timers: %v", clk.Pending())
	}
	clk.Advance(time.Hour)
	if len(snd.all()) != 1 {
		t.Fatalf("deadline should fire exactly once: %+v", snd.all())
	}
}

func TestStopKeepsStoredReminders(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	snd := &recSender{}
	now := mustUTC(t, "2025-09-18T10:00:00Z")
	s, clk := newTestScheduler(t, now, st, snd)

	r, err := s.Create(context.Background(), "a@c.us", "x", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	clk.Advance(2 * time.Hour)
	if len(snd.all()) != 1 {
		t.Fatalf("no sends after Stop: %+v", snd.all())
	}
	if !st.has(r.ID) {
		t.Fatalf("Stop must keep the stored reminder")
	}
}

func TestFormatLocal(t *testing.T) {
	t.Parallel()

	got := FormatLocal(mustUTC(t, "2025-01-05T02:04:09Z"), wib)
	if got != "5/1/2025, 09.04.09" {
		t.Fatalf("FormatLocal = %q", got)
	}
}
