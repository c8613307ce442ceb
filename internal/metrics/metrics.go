// Package metrics holds the hub's Prometheus instruments.
//
// All instruments live on a dedicated registry so several hubs (tests, the
// integration suite) can coexist in one process. Every recording method is
// safe on a nil *Metrics, which components treat as "metrics disabled".
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// EventsReceived counts inbound frames.
	// Labels: event, status (ok|rejected|error)
	EventsReceived *prometheus.CounterVec

	// MessagesPersisted counts successful appends.
	// Labels: kind (direct|group)
	MessagesPersisted *prometheus.CounterVec

	// PersistFailures counts appends that failed after retry.
	// Labels: kind (direct|group)
	PersistFailures *prometheus.CounterVec

	// Deliveries counts frames handed to connections by the room router.
	// Labels: event
	Deliveries *prometheus.CounterVec

	// DeliveryFailures counts frames a connection refused.
	// Labels: event
	DeliveryFailures *prometheus.CounterVec

	// ActiveConnections is the number of open transport connections.
	ActiveConnections prometheus.Gauge

	// OnlineUsers is the number of users in the presence registry.
	OnlineUsers prometheus.Gauge

	// Calls counts call outcomes.
	// Labels: outcome (placed|unreachable|accepted|rejected|hangup|timeout|disconnected)
	Calls *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buddyhub_events_received_total",
				Help: "Inbound events by name and outcome",
			},
			[]string{"event", "status"},
		),
		MessagesPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buddyhub_messages_persisted_total",
				Help: "Messages durably stored by kind",
			},
			[]string{"kind"},
		),
		PersistFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buddyhub_persist_failures_total",
				Help: "Message appends that failed by kind",
			},
			[]string{"kind"},
		),
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buddyhub_deliveries_total",
				Help: "Frames handed to connections by event",
			},
			[]string{"event"},
		),
		DeliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buddyhub_delivery_failures_total",
				Help: "Frames a connection refused by event",
			},
			[]string{"event"},
		),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buddyhub_active_connections",
			Help: "Open transport connections",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buddyhub_online_users",
			Help: "Users currently present",
		}),
		Calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buddyhub_calls_total",
				Help: "Call signaling outcomes",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventReceived(event, status string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(event, status).Inc()
}

func (m *Metrics) MessagePersisted(kind string) {
	if m == nil {
		return
	}
	m.MessagesPersisted.WithLabelValues(kind).Inc()
}

func (m *Metrics) PersistFailed(kind string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Delivered(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Deliveries.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) DeliveryFailed(event string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) CallOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(outcome).Inc()
}
