package app

import (
	"context"
	"errors"
	"time"

	"relaybot/internal/command"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

var errAuditQueueFull = errors.New("audit queue full; entry dropped")

// auditQueue decouples audit producers from the store. AppendAudit never
// blocks; run writes entries one at a time.
type auditQueue struct {
	sink    command.AuditSink
	ch      chan storage.AuditEntry
	timeout time.Duration
	log     logx.Logger
}

func newAuditQueue(sink command.AuditSink, size int, timeout time.Duration, log logx.Logger) *auditQueue {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &auditQueue{
		sink:    sink,
		ch:      make(chan storage.AuditEntry, size),
		timeout: timeout,
		log:     log,
	}
}

func (q *auditQueue) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	select {
	case q.ch <- e:
		return nil
	default:
		return errAuditQueueFull
	}
}

// run writes queued entries until ctx is done, then flushes what is left.
func (q *auditQueue) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.flush(ctx)
			return nil
		case e := <-q.ch:
			q.write(ctx, e)
		}
	}
}

func (q *auditQueue) flush(ctx context.Context) {
	for {
		select {
		case e := <-q.ch:
			q.write(ctx, e)
		default:
			return
		}
	}
}

// write is bounded by the queue timeout only; shutdown does not cut an
// entry short.
func (q *auditQueue) write(ctx context.Context, e storage.AuditEntry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()
	if err := q.sink.AppendAudit(wctx, e); err != nil {
		q.log.Warn("audit append failed", logx.String("tag", e.Tag), logx.Err(err))
	}
}
