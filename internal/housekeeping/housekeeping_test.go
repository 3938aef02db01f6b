package housekeeping

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

type countPresence struct {
	n   atomic.Int32
	err error
}

func (p *countPresence) SendPresence(context.Context) error {
	p.n.Add(1)
	return p.err
}

type countCompactor struct{ n atomic.Int32 }

func (c *countCompactor) Compact(context.Context) error {
	c.n.Add(1)
	return nil
}

func TestKeepaliveWaitsJitter(t *testing.T) {
	t.Parallel()
	p := &countPresence{}
	s := New(Config{Jitter: time.Minute}, p, nil, logx.Nop())

	var slept time.Duration
	s.sleep = func(_ context.Context, d time.Duration) bool {
		slept = d
		return true
	}
	s.Keepalive(context.Background())

	if p.n.Load() != 1 {
		t.Fatalf("presence calls = %d", p.n.Load())
	}
	if slept < 0 || slept >= time.Minute {
		t.Fatalf("jitter %v outside [0, 1m)", slept)
	}
}

func TestKeepaliveCanceledDuringJitter(t *testing.T) {
	t.Parallel()
	p := &countPresence{}
	s := New(Config{Jitter: time.Hour}, p, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Keepalive(ctx)
	if p.n.Load() != 0 {
		t.Fatal("presence must not be sent after cancellation")
	}
}

func TestKeepaliveErrorIsLogged(t *testing.T) {
	t.Parallel()
	p := &countPresence{err: errors.New("offline")}
	s := New(Config{}, p, nil, logx.Nop())
	s.Keepalive(context.Background())
	if p.n.Load() != 1 {
		t.Fatalf("presence calls = %d", p.n.Load())
	}
}

func TestRunSchedulesJobs(t *testing.T) {
	t.Parallel()
	p := &countPresence{}
	c := &countCompactor{}
	s := New(Config{KeepaliveSpec: "@every 1s", CompactSpec: "@every 1s"}, p, c, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && (p.n.Load() == 0 || c.n.Load() == 0) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.n.Load() == 0 || c.n.Load() == 0 {
		t.Fatalf("jobs did not run: presence=%d compact=%d", p.n.Load(), c.n.Load())
	}
}

func TestRunRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{CompactSpec: "not a spec"}, nil, &countCompactor{}, logx.Nop())
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected spec error")
	}
}
