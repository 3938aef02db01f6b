// Package reminder arms the timed notifications of pending deadline
// reminders: one warning per configured offset and a terminal deadline
// alert that deletes the reminder.
package reminder

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"relaybot/internal/clock"
	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// DefaultWarnOffsets are the warning milestones before a deadline.
var DefaultWarnOffsets = []time.Duration{45 * time.Minute, 30 * time.Minute}

// Store is the subset of storage.Store the scheduler needs.
type Store interface {
	InsertReminder(ctx context.Context, destination, text string, deadline time.Time) (int64, error)
	ListReminders(ctx context.Context) ([]storage.Reminder, error)
	DeleteReminder(ctx context.Context, id int64) error
}

type Options struct {
	Store  Store
	Sender transport.Sender
	Clock  clock.Clock
	// Location is the zone deadlines are displayed in.
	Location    *time.Location
	WarnOffsets []time.Duration
	// SendTimeout bounds one notification send.
	SendTimeout time.Duration
	Log         logx.Logger
	Bus         eventbus.Bus
}

// Milestone is one armed notification.
type Milestone struct {
	// Before is how long before the deadline it fires; 0 is the deadline alert.
	Before time.Duration
	At     time.Time
}

// Pending describes an armed reminder and its remaining milestones.
type Pending struct {
	Reminder   storage.Reminder
	Milestones []Milestone
}

type entry struct {
	ver      uint64
	reminder storage.Reminder
	timers   map[time.Duration]clock.Timer
	at       map[time.Duration]time.Time
}

// Scheduler owns the in-memory timers of every live reminder, keyed by id.
//
// Every callback captures the entry version it was armed with; Cancel and
// re-Arm bump it, so a callback that already started for a replaced or
// canceled entry does nothing.
type Scheduler struct {
	store   Store
	sender  transport.Sender
	clk     clock.Clock
	loc     *time.Location
	offsets []time.Duration
	sendTO  time.Duration
	log     logx.Logger
	bus     eventbus.Bus

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	seq     uint64
	entries map[int64]*entry
	stopped bool

	inflight sync.WaitGroup
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.WarnOffsets == nil {
		opts.WarnOffsets = DefaultWarnOffsets
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	offsets := make([]time.Duration, 0, len(opts.WarnOffsets))
	for _, o := range opts.WarnOffsets {
		if o > 0 {
			offsets = append(offsets, o)
		}
	}
	// Largest offset first so warnings are armed in fire order.
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] > offsets[j] })

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   opts.Store,
		sender:  opts.Sender,
		clk:     opts.Clock,
		loc:     opts.Location,
		offsets: offsets,
		sendTO:  opts.SendTimeout,
		log:     opts.Log.With(logx.String("comp", "reminder")),
		bus:     opts.Bus,
		baseCtx: ctx,
		cancel:  cancel,
		entries: map[int64]*entry{},
	}
}

// Location is the display zone.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Now is the scheduler's clock.
func (s *Scheduler) Now() time.Time { return s.clk.Now() }

// Create persists a new reminder and arms it with an immediate confirmation.
// Nothing is armed if the insert fails.
func (s *Scheduler) Create(ctx context.Context, destination, text string, deadline time.Time) (storage.Reminder, error) {
	id, err := s.store.InsertReminder(ctx, destination, text, deadline)
	if err != nil {
		return storage.Reminder{}, err
	}
	r := storage.Reminder{ID: id, Destination: destination, Text: text, Deadline: deadline.UTC()}
	if err := s.Arm(ctx, r, true); err != nil {
		return r, err
	}
	return r, nil
}

// Arm schedules r's notifications relative to the current time.
//
// An already elapsed deadline deletes the record and sends nothing. With
// announce set a confirmation is sent once the timers are armed.
// Re-arming an id replaces its previous timers.
func (s *Scheduler) Arm(ctx context.Context, r storage.Reminder, announce bool) error {
	now := s.clk.Now()
	remaining := r.Deadline.Sub(now)
	if remaining <= 0 {
		s.log.Info("deadline already passed; dropping reminder",
			logx.Int64("id", r.ID), logx.Time("deadline", r.Deadline))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderStale})
		s.disarm(r.ID)
		return s.store.DeleteReminder(ctx, r.ID)
	}

	// Milestones are measured from now, not from after the confirmation send.
	if !s.armTimers(r, now, remaining) {
		return nil
	}
	if announce {
		s.send(r, confirmText(r.Text, r.Deadline, s.loc), "confirm")
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderArmed})
	return nil
}

func (s *Scheduler) armTimers(r storage.Reminder, now time.Time, remaining time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if old, ok := s.entries[r.ID]; ok {
		stopTimers(old)
	}
	s.seq++
	e := &entry{
		ver:      s.seq,
		reminder: r,
		timers:   make(map[time.Duration]clock.Timer, len(s.offsets)+1),
		at:       make(map[time.Duration]time.Time, len(s.offsets)+1),
	}
	s.entries[r.ID] = e

	for _, off := range s.offsets {
		d := remaining - off
		if d <= 0 {
			continue
		}
		off := off
		e.at[off] = now.Add(d)
		e.timers[off] = s.clk.AfterFunc(d, func() { s.fireWarning(r.ID, e.ver, off) })
	}
	e.at[0] = r.Deadline
	e.timers[0] = s.clk.AfterFunc(remaining, func() { s.fireDeadline(r.ID, e.ver) })

	s.log.Debug("reminder armed",
		logx.Int64("id", r.ID),
		logx.String("to", r.Destination),
		logx.Time("deadline", r.Deadline),
		logx.Int("warnings", len(e.timers)-1),
	)
	return true
}

// Cancel suppresses every pending notification of id and deletes the record.
// Canceling an unknown or already fired id is not an error.
func (s *Scheduler) Cancel(ctx context.Context, id int64) error {
	if s.disarm(id) {
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderCanceled})
	}
	return s.store.DeleteReminder(ctx, id)
}

// RecoverAll re-arms every stored reminder without announcing it.
// Elapsed reminders are deleted. Returns the number armed.
func (s *Scheduler) RecoverAll(ctx context.Context) (int, error) {
	all, err := s.store.ListReminders(ctx)
	if err != nil {
		return 0, err
	}
	armed := 0
	var firstErr error
	for _, r := range all {
		if err := s.Arm(ctx, r, false); err != nil {
			s.log.Warn("recover reminder failed", logx.Int64("id", r.ID), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if s.isArmed(r.ID) {
			armed++
		}
	}
	s.log.Info("reminders recovered", logx.Int("stored", len(all)), logx.Int("armed", armed))
	return armed, firstErr
}

// Pending returns the armed reminders ordered by id, each with its
// remaining milestones in fire order.
func (s *Scheduler) Pending() []Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pending, 0, len(s.entries))
	for _, e := range s.entries {
		p := Pending{Reminder: e.reminder, Milestones: make([]Milestone, 0, len(e.at))}
		for before, at := range e.at {
			p.Milestones = append(p.Milestones, Milestone{Before: before, At: at})
		}
		sort.Slice(p.Milestones, func(i, j int) bool { return p.Milestones[i].At.Before(p.Milestones[j].At) })
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reminder.ID < out[j].Reminder.ID })
	return out
}

// Stop disarms every timer and waits for running callbacks. Stored
// reminders are kept so the next RecoverAll re-arms them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.entries {
		stopTimers(e)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) isArmed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *Scheduler) disarm(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	stopTimers(e)
	delete(s.entries, id)
	return true
}

func stopTimers(e *entry) {
	for _, t := range e.timers {
		t.Stop()
	}
}

func (s *Scheduler) fireWarning(id int64, ver uint64, before time.Duration) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.ver != ver || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(e.timers, before)
	delete(e.at, before)
	r := e.reminder
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()
	defer s.recoverPanic(id, "warning")

	s.send(r, warningText(r.Text, before), "warning")
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderWarned, Label: fmt.Sprintf("%dm", int(before/time.Minute))})
}

func (s *Scheduler) fireDeadline(id int64, ver uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.ver != ver || s.stopped {
		s.mu.Unlock()
		return
	}
	// Terminal: drop the entry first so a concurrent Cancel only deletes the row.
	stopTimers(e)
	delete(s.entries, id)
	r := e.reminder
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()
	defer s.recoverPanic(id, "deadline")

	s.send(r, deadlineText(r.Text), "deadline")
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderFired})

	// Delete regardless of the send outcome so one failed send cannot wedge cleanup.
	ctx, cancel := context.WithTimeout(s.baseCtx, s.sendTO)
	defer cancel()
	if err := s.store.DeleteReminder(ctx, id); err != nil {
		s.log.Error("delete fired reminder failed", logx.Int64("id", id), logx.Err(err))
	}
}

func (s *Scheduler) send(r storage.Reminder, text, kind string) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.sendTO)
	defer cancel()
	if err := s.sender.Send(ctx, r.Destination, text); err != nil {
		s.log.Warn("reminder send failed",
			logx.Int64("id", r.ID),
			logx.String("to", r.Destination),
			logx.String("kind", kind),
			logx.Err(err),
		)
	}
}

func (s *Scheduler) recoverPanic(id int64, kind string) {
	if rec := recover(); rec != nil {
		s.log.Error("reminder callback panic",
			logx.Int64("id", id),
			logx.String("kind", kind),
			logx.Any("panic", rec),
			logx.String("stack", string(debug.Stack())),
		)
	}
}
