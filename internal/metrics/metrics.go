package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	Adjustments         *prometheus.CounterVec
	TicketsMoved        *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
}

// New registers every collector on registry.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dance_tickets_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dance_tickets_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Adjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dance_tickets_adjustments_total",
			Help: "Ticket adjustments by outcome.",
		}, []string{"result"}),
		TicketsMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dance_tickets_moved_total",
			Help: "Tickets added or consumed through committed adjustments.",
		}, []string{"direction"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dance_tickets_notifications_total",
			Help: "LINE notifications by outcome.",
		}, []string{"outcome"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dance_tickets_events_published_total",
			Help: "Ledger events handed to Kafka by outcome.",
		}, []string{"outcome"}),
	}
}

// NewDefault builds a registry that also exports Go and process collectors.
func NewDefault() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(registry)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AdjustmentResult(result string) {
	if m == nil {
		return
	}
	m.Adjustments.WithLabelValues(result).Inc()
}

func (m *Metrics) TicketsChanged(changeAmount int) {
	if m == nil {
		return
	}
	if changeAmount > 0 {
		m.TicketsMoved.WithLabelValues("added").Add(float64(changeAmount))
	} else {
		m.TicketsMoved.WithLabelValues("consumed").Add(float64(-changeAmount))
	}
}

func (m *Metrics) NotificationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventPublished(outcome string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
