package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaybot/internal/eventbus"
	logx "relaybot/pkg/logx"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestObserveCounts(t *testing.T) {
	t.Parallel()
	m := New()

	m.Observe(eventbus.Event{Type: eventbus.MessageSent})
	m.Observe(eventbus.Event{Type: eventbus.MessageSent})
	m.Observe(eventbus.Event{Type: eventbus.MessageFailed})
	m.Observe(eventbus.Event{Type: eventbus.ReminderFired})
	m.Observe(eventbus.Event{Type: eventbus.CommandHandled, Label: ".ping"})
	m.Observe(eventbus.Event{Type: eventbus.TransportState, Label: "connecting"})
	m.Observe(eventbus.Event{Type: eventbus.TransportState, Label: "ready"})

	body := scrape(t, m)
	for _, want := range []string{
		`relaybot_messages_total{result="ok"} 2`,
		`relaybot_messages_total{result="error"} 1`,
		`relaybot_reminder_events_total{event="fired"} 1`,
		`relaybot_commands_total{command=".ping",outcome="handled"} 1`,
		`relaybot_transport_state{state="ready"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, `state="connecting"`) {
		t.Fatalf("transport gauge should carry only the current state")
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	m := New()
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus, logx.Nop())
		close(done)
	}()

	seen := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !seen {
		bus.Publish(eventbus.Event{Type: eventbus.RoutingReloaded})
		time.Sleep(10 * time.Millisecond)
		seen = !strings.Contains(scrape(t, m), "relaybot_routing_reloads_total 0")
	}
	cancel()
	<-done

	if !seen {
		t.Fatal("bus event not observed")
	}
}
