// Package console is a development transport: outbound messages are logged
// and every stdin line is an inbound message from a fixed sender.
package console

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Transport struct {
	in    io.Reader
	from  string
	log   logx.Logger
	bus   eventbus.Bus
	state *transport.StateTracker
}

// New reads inbound lines from in, attributed to from.
func New(in io.Reader, from string, log logx.Logger, bus eventbus.Bus) *Transport {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Transport{
		in:    in,
		from:  from,
		log:   log.With(logx.String("comp", "console")),
		bus:   bus,
		state: transport.NewStateTracker(nil),
	}
}

func (t *Transport) State() transport.State { return t.state.State() }
func (t *Transport) Ready() <-chan struct{} { return t.state.Ready() }

func (t *Transport) Send(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Info("outbound message", logx.String("to", to), logx.String("text", text))
	t.bus.Publish(eventbus.Event{Type: eventbus.MessageSent, Label: "console"})
	return nil
}

func (t *Transport) SendPresence(ctx context.Context) error {
	t.log.Debug("presence available")
	return ctx.Err()
}

// Start marks the transport ready and forwards stdin lines until EOF or ctx is done.
func (t *Transport) Start(ctx context.Context, out chan<- transport.Message) error {
	t.state.Set(transport.StateReady)
	defer t.state.Set(transport.StateDisconnected)
	if t.in == nil || out == nil {
		<-ctx.Done()
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(t.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			select {
			case out <- transport.Message{From: t.from, Text: line, ReceivedAt: time.Now()}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
