// Package command turns inbound chat text into reminder and routing
// actions and replies to the originating chat.
package command

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/routing"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

// Command is one entry of the dot-command table.
type Command struct {
	Name string // ".remind"
	// Exact commands match only the whole (lowercased) body; the rest match by prefix.
	Exact  bool
	Access Access
	Handle HandlerFunc
}

// Request is one classified inbound message.
type Request struct {
	ChatID  string
	Body    string
	Command string
	Args    []string // whitespace-split body; Args[0] is the command word
	ReqID   string
	At      time.Time
	Logger  logx.Logger

	d *Dispatcher
}

// Reply sends text back to the originating chat. Failures are logged only.
func (r *Request) Reply(ctx context.Context, text string) {
	if err := r.d.sender.Send(ctx, r.ChatID, text); err != nil {
		r.Logger.Warn("reply failed", logx.Err(err))
	}
}

// Scheduler is the reminder engine as seen by commands.
type Scheduler interface {
	Create(ctx context.Context, destination, text string, deadline time.Time) (storage.Reminder, error)
	Cancel(ctx context.Context, id int64) error
}

// ReminderLister lists a chat's pending reminders.
type ReminderLister interface {
	ListRemindersByDestination(ctx context.Context, destination string) ([]storage.Reminder, error)
}

// AuditSink stores admin audit entries.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Options struct {
	Routing   *routing.Store
	Scheduler Scheduler
	Reminders ReminderLister
	Audit     AuditSink // optional
	Sender    transport.Sender
	Location  *time.Location
	Now       func() time.Time

	Workers   int
	QueueSize int
	Timeout   time.Duration // per command

	Log logx.Logger
	Bus eventbus.Bus
}

type Dispatcher struct {
	routing   *routing.Store
	sched     Scheduler
	reminders ReminderLister
	audit     AuditSink
	sender    transport.Sender
	loc       *time.Location
	now       func() time.Time
	workers   int
	timeout   time.Duration
	log       logx.Logger
	bus       eventbus.Bus

	table []Command
	jobs  chan func()
}

func New(opts Options) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	d := &Dispatcher{
		routing:   opts.Routing,
		sched:     opts.Scheduler,
		reminders: opts.Reminders,
		audit:     opts.Audit,
		sender:    opts.Sender,
		loc:       opts.Location,
		now:       opts.Now,
		workers:   opts.Workers,
		timeout:   opts.Timeout,
		log:       opts.Log.With(logx.String("comp", "command")),
		bus:       opts.Bus,
		jobs:      make(chan func(), opts.QueueSize),
	}
	d.table = d.commands()
	return d
}

// match finds the command for a trimmed body. Order matters: exact names
// first, then prefixes in table order.
func (d *Dispatcher) match(body string) (Command, bool) {
	lower := strings.ToLower(body)
	for _, c := range d.table {
		if c.Exact && lower == c.Name {
			return c, true
		}
	}
	for _, c := range d.table {
		if !c.Exact && strings.HasPrefix(lower, c.Name) {
			return c, true
		}
	}
	return Command{}, false
}

// prepare classifies msg and returns the handler to run, or nil when the
// message is dropped (not a command, unknown command or unauthorized).
func (d *Dispatcher) prepare(msg transport.Message) (HandlerFunc, *Request) {
	body := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(body, ".") || msg.From == "" {
		return nil, nil
	}
	cmd, ok := d.match(body)
	if !ok {
		d.bus.Publish(eventbus.Event{Type: eventbus.CommandDropped, Label: "unknown"})
		return nil, nil
	}
	if cmd.Access == AccessAdmin && !d.routing.Snapshot().IsAdmin(msg.From) {
		d.log.Debug("admin command from non-admin dropped",
			logx.String("chat_id", msg.From), logx.String("cmd", cmd.Name))
		d.bus.Publish(eventbus.Event{Type: eventbus.CommandDropped, Label: "unauthorized"})
		return nil, nil
	}

	at := msg.ReceivedAt
	if at.IsZero() {
		at = d.now()
	}
	rid := newReqID()
	req := &Request{
		ChatID:  msg.From,
		Body:    body,
		Command: cmd.Name,
		Args:    splitArgs(body),
		ReqID:   rid,
		At:      at,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.String("chat_id", msg.From),
			logx.String("cmd", cmd.Name),
		),
		d: d,
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(d.timeout),
	)
	return final, req
}

// Handle processes one message synchronously.
func (d *Dispatcher) Handle(ctx context.Context, msg transport.Message) error {
	h, req := d.prepare(msg)
	if h == nil {
		return nil
	}
	err := h(ctx, req)
	d.bus.Publish(eventbus.Event{Type: eventbus.CommandHandled, Label: req.Command})
	return err
}

// Submit queues msg for the worker pool. It reports false when the message
// was a command but the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, msg transport.Message) bool {
	h, req := d.prepare(msg)
	if h == nil {
		return true
	}
	select {
	case d.jobs <- func() {
		_ = h(ctx, req)
		d.bus.Publish(eventbus.Event{Type: eventbus.CommandHandled, Label: req.Command})
	}:
		return true
	default:
		d.log.Warn("dispatcher busy; command dropped",
			logx.String("chat_id", req.ChatID), logx.String("cmd", req.Command))
		d.bus.Publish(eventbus.Event{Type: eventbus.CommandDropped, Label: "busy"})
		return false
	}
}

// DispatchLoop runs the bounded worker pool until ctx is done, feeding it
// from in. A closed in only stops that feed; Submit keeps working.
func (d *Dispatcher) DispatchLoop(ctx context.Context, in <-chan transport.Message) error {
	d.log.Info("command dispatcher started", logx.Int("workers", d.workers), logx.Int("job_queue_cap", cap(d.jobs)))

	var wg sync.WaitGroup
	wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.jobs:
					if job != nil {
						job()
					}
				}
			}
		}()
	}
	defer func() {
		wg.Wait()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			d.Submit(ctx, msg)
		}
	}
}
