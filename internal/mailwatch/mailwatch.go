// Package mailwatch polls an IMAP inbox for unseen mail from routed
// senders and hands each message to the forwarder.
//
// A message is flagged \Seen only after at least one destination accepted
// it; a routing miss or a failed delivery leaves it unseen for the next poll.
package mailwatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/forward"
	logx "relaybot/pkg/logx"
)

// Message is one fetched message. Raw is the full RFC 5322 text.
type Message struct {
	UID uint32
	Raw []byte
}

// Mailbox is one logged-in session on the watched folder.
type Mailbox interface {
	// UnseenFrom returns unseen messages whose From header contains sender,
	// without setting \Seen.
	UnseenFrom(ctx context.Context, sender string) ([]Message, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// DialFunc opens a session; one is opened per poll.
type DialFunc func(ctx context.Context) (Mailbox, error)

type Forwarder interface {
	Forward(ctx context.Context, e forward.Email) []forward.Result
}

type Config struct {
	Location *time.Location
	// Spec is the poll cron spec. Default "@every 60s".
	Spec string
	// MaxBody truncates bodies to this many characters. Default 2000.
	MaxBody int
	// Timeout bounds one poll. Default 2m.
	Timeout time.Duration
}

type Watcher struct {
	cfg     Config
	dial    DialFunc
	senders func() []string
	fwd     Forwarder
	log     logx.Logger
	parser  cron.Parser

	polls atomic.Int64
}

// New builds a watcher. senders is called at the start of every poll so
// routing edits apply without a restart.
func New(cfg Config, dial DialFunc, senders func() []string, fwd Forwarder, log logx.Logger) *Watcher {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 60s"
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 2000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Watcher{
		cfg:     cfg,
		dial:    dial,
		senders: senders,
		fwd:     fwd,
		log:     log.With(logx.String("comp", "mailwatch")),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Run polls once right away, then on the cron spec, until ctx is done.
// A poll still running when the next one is due is skipped.
func (w *Watcher) Run(ctx context.Context) error {
	sched, err := w.parser.Parse(w.cfg.Spec)
	if err != nil {
		return err
	}
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() { w.pollLogged(ctx) }))

	c := cron.New(cron.WithParser(w.parser), cron.WithLocation(w.cfg.Location))
	c.Schedule(sched, job)
	c.Start()
	w.log.Info("mail watcher started", logx.String("spec", w.cfg.Spec))
	first := make(chan struct{})
	go func() {
		defer close(first)
		job.Run()
	}()

	<-ctx.Done()
	<-c.Stop().Done()
	<-first
	w.log.Info("mail watcher stopped", logx.Int64("polls", w.polls.Load()))
	return nil
}

func (w *Watcher) pollLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	n, err := w.Poll(ctx)
	if err != nil {
		w.log.Warn("mail poll failed", logx.Err(err))
		return
	}
	w.log.Debug("mail poll done", logx.Int("forwarded", n), logx.Duration("took", time.Since(start)))
}

// Poll runs one pass over every routed sender and returns how many
// messages were forwarded and flagged \Seen.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	w.polls.Add(1)
	senders := w.senders()
	if len(senders) == 0 {
		w.log.Debug("no senders routed; skipping mail poll")
		return 0, nil
	}

	pctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	mb, err := w.dial(pctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			w.log.Debug("mailbox close failed", logx.Err(err))
		}
	}()

	// A message can match several sender entries; handle it once per poll.
	tried := make(map[uint32]bool)
	forwarded := 0
	for _, sender := range senders {
		msgs, err := mb.UnseenFrom(pctx, sender)
		if err != nil {
			if pctx.Err() != nil {
				return forwarded, pctx.Err()
			}
			w.log.Warn("mail search failed", logx.String("sender", sender), logx.Err(err))
			continue
		}
		for _, m := range msgs {
			if tried[m.UID] {
				continue
			}
			tried[m.UID] = true
			if w.relay(pctx, mb, m) {
				forwarded++
			}
		}
	}
	return forwarded, nil
}

func (w *Watcher) relay(ctx context.Context, mb Mailbox, m Message) bool {
	e, err := Parse(m.Raw, w.cfg.MaxBody)
	if err != nil {
		w.log.Warn("unreadable message left unseen", logx.Int64("uid", int64(m.UID)), logx.Err(err))
		return false
	}
	results := w.fwd.Forward(ctx, e)
	if len(results) == 0 {
		w.log.Info("no target for message; left unseen", logx.Int64("uid", int64(m.UID)), logx.String("from", e.Sender))
		return false
	}
	delivered := false
	for _, r := range results {
		if r.OK {
			delivered = true
			break
		}
	}
	if !delivered {
		w.log.Warn("every delivery failed; left unseen", logx.Int64("uid", int64(m.UID)), logx.String("from", e.Sender))
		return false
	}
	if err := mb.MarkSeen(ctx, m.UID); err != nil {
		w.log.Warn("mark seen failed", logx.Int64("uid", int64(m.UID)), logx.Err(err))
	}
	return true
}
