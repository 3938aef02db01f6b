// Package metrics exposes relay counters to Prometheus. Counters are fed
// from the event bus so the core never imports this package.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaybot/internal/eventbus"
	logx "relaybot/pkg/logx"
)

const namespace = "relaybot"

type Metrics struct {
	reg *prometheus.Registry

	sends     *prometheus.CounterVec
	reminders *prometheus.CounterVec
	commands  *prometheus.CounterVec
	emails    *prometheus.CounterVec
	reloads   prometheus.Counter
	transport *prometheus.GaugeVec
}

// New registers the relay collectors plus the Go and process collectors
// on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Outbound chat sends by result.",
		}, []string{"result"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_events_total",
			Help:      "Reminder lifecycle transitions.",
		}, []string{"event"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound dot-commands by outcome and name.",
		}, []string{"outcome", "command"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Inbound e-mail notifications by routing outcome.",
		}, []string{"outcome"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_reloads_total",
			Help:      "Routing document reloads.",
		}),
		transport: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_state",
			Help:      "1 for the current transport state, 0 otherwise.",
		}, []string{"state"}),
	}
	reg.MustRegister(
		m.sends, m.reminders, m.commands, m.emails, m.reloads, m.transport,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe applies one event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.MessageSent:
		m.sends.WithLabelValues("ok").Inc()
	case eventbus.MessageFailed:
		m.sends.WithLabelValues("error").Inc()
	case eventbus.ReminderArmed:
		m.reminders.WithLabelValues("armed").Inc()
	case eventbus.ReminderWarned:
		m.reminders.WithLabelValues("warned").Inc()
	case eventbus.ReminderFired:
		m.reminders.WithLabelValues("fired").Inc()
	case eventbus.ReminderCanceled:
		m.reminders.WithLabelValues("canceled").Inc()
	case eventbus.ReminderStale:
		m.reminders.WithLabelValues("stale").Inc()
	case eventbus.CommandHandled:
		m.commands.WithLabelValues("handled", e.Label).Inc()
	case eventbus.CommandDropped:
		m.commands.WithLabelValues("dropped", e.Label).Inc()
	case eventbus.EmailForwarded:
		m.emails.WithLabelValues(e.Label).Inc()
	case eventbus.RoutingReloaded:
		m.reloads.Inc()
	case eventbus.TransportState:
		m.transport.Reset()
		m.transport.WithLabelValues(e.Label).Set(1)
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus, log logx.Logger) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	log.Debug("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
