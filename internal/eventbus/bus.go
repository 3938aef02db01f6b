// Package eventbus carries in-process relay events (sends, reminder
// milestones, config reloads) from the core to observers such as metrics.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels and may drop events when slow.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	MessageSent      = "transport.sent"
	MessageFailed    = "transport.failed"
	ReminderArmed    = "reminder.armed"
	ReminderWarned   = "reminder.warned"
	ReminderFired    = "reminder.fired"
	ReminderCanceled = "reminder.canceled"
	ReminderStale    = "reminder.stale"
	CommandHandled   = "command.handled"
	CommandDropped   = "command.dropped"
	EmailForwarded   = "email.forwarded"
	RoutingReloaded  = "routing.reloaded"
	TransportState   = "transport.state"
)

type Event struct {
	Type string
	Time time.Time
	// Label is a low-cardinality tag (command name, state, milestone).
	Label string
	Data  any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything. Components default to it when no bus is wired.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock means no Publish is mid-send on ch.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
