// Package forward relays an inbound e-mail notification to every chat
// destination its sender routes to.
package forward

import (
	"context"
	"fmt"
	"strings"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Email is the webhook payload announcing a new message.
type Email struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Result is the delivery outcome for one destination.
type Result struct {
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Resolver maps a sender to destinations.
type Resolver interface {
	Resolve(ctx context.Context, sender string) []string
}

type Forwarder struct {
	resolver Resolver
	sender   transport.Sender
	log      logx.Logger
	bus      eventbus.Bus
}

func New(resolver Resolver, sender transport.Sender, log logx.Logger, bus eventbus.Bus) *Forwarder {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Forwarder{
		resolver: resolver,
		sender:   sender,
		log:      log.With(logx.String("comp", "forward")),
		bus:      bus,
	}
}

// Format renders the chat text for e.
func Format(e Email) string {
	subject := e.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "(no subject)"
	}
	return fmt.Sprintf("📩 Email Baru!\n📧 Dari: %s\n📌 Subject: %s\n\n%s", e.Sender, subject, e.Body)
}

// Forward sends e to every resolved destination, one at a time in resolver
// order. A nil result means no destination matched.
func (f *Forwarder) Forward(ctx context.Context, e Email) []Result {
	targets := f.resolver.Resolve(ctx, e.Sender)
	if len(targets) == 0 {
		f.log.Warn("no target matched", logx.String("sender", e.Sender))
		f.bus.Publish(eventbus.Event{Type: eventbus.EmailForwarded, Label: "miss"})
		return nil
	}

	text := Format(e)
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		if err := f.sender.Send(ctx, t, text); err != nil {
			f.log.Warn("forward failed", logx.String("sender", e.Sender), logx.String("target", t), logx.Err(err))
			results = append(results, Result{Target: t, OK: false, Error: err.Error()})
			continue
		}
		f.log.Info("forwarded", logx.String("sender", e.Sender), logx.String("target", t))
		results = append(results, Result{Target: t, OK: true})
	}
	f.bus.Publish(eventbus.Event{Type: eventbus.EmailForwarded, Label: "routed", Data: len(results)})
	return results
}
