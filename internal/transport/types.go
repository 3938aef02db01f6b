// Package transport defines the chat transport seen by the relay core.
//
// The core only sends text to opaque destination ids ("628...@c.us",
// "120...@g.us") and observes connectivity through State and Ready.
package transport

import (
	"context"
	"time"
)

// Message is one inbound chat message.
type Message struct {
	From       string    `json:"from"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"-"`
}

// Sender delivers text to a destination.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Transport is an outbound chat connection with its own lifecycle.
type Transport interface {
	Sender
	// Start runs the connection loop until ctx is done. Inbound messages,
	// if the driver produces any, are written to out.
	Start(ctx context.Context, out chan<- Message) error
	State() State
	// Ready returns a channel closed once the state is StateReady.
	Ready() <-chan struct{}
}

// Presence is implemented by transports that can announce "online".
type Presence interface {
	SendPresence(ctx context.Context) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, text string) error

func (f SenderFunc) Send(ctx context.Context, to, text string) error { return f(ctx, to, text) }
