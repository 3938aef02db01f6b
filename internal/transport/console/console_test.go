package console

import (
	"context"
	"strings"
	"testing"
	"time"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func TestStartForwardsLines(t *testing.T) {
	t.Parallel()
	tr := New(strings.NewReader(".ping\n\n  .help  \n"), "62811@c.us", logx.Nop(), nil)
	out := make(chan transport.Message, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Start(ctx, out)
	}()

	for _, want := range []string{".ping", ".help"} {
		select {
		case m := <-out:
			if m.From != "62811@c.us" || m.Text != want {
				t.Fatalf("got %+v want text %q", m, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	<-tr.Ready()
	if err := tr.Send(ctx, "x@c.us", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cancel()
	<-done
	if tr.State() != transport.StateDisconnected {
		t.Fatalf("state=%v", tr.State())
	}
}
