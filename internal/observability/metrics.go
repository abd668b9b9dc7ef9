package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	outboxDelivered prometheus.Counter
	outboxFailed    *prometheus.CounterVec
	outboxExhausted prometheus.Gauge
	outboxPending   prometheus.Gauge

	escalations   *prometheus.CounterVec
	sweepFailures prometheus.Counter
	sweepDuration *prometheus.HistogramVec
	reminders     prometheus.Counter
}

// NewMetrics registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_http_requests_total", Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ticket_http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_http_errors_total", Help: "HTTP errors by route and error code",
		}, []string{"route", "method", "code"}),
		outboxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticket_outbox_delivered_total", Help: "Outbox events delivered",
		}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_outbox_failed_total", Help: "Outbox delivery attempts that failed",
		}, []string{"event_type"}),
		outboxExhausted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ticket_outbox_exhausted", Help: "Outbox events at the attempt cap",
		}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ticket_outbox_pending", Help: "Outbox events waiting for delivery",
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_escalations_total", Help: "Tickets escalated by reason",
		}, []string{"reason"}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticket_sweep_failures_total", Help: "Per-ticket sweep errors",
		}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ticket_sweep_duration_seconds", Help: "Sweep run time", Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticket_tat_reminders_total", Help: "TAT reminders enqueued",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.errors,
		m.outboxDelivered,
		m.outboxFailed,
		m.outboxExhausted,
		m.outboxPending,
		m.escalations,
		m.sweepFailures,
		m.sweepDuration,
		m.reminders,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

func (m *Metrics) OutboxDelivered() {
	if m == nil {
		return
	}
	m.outboxDelivered.Inc()
}

func (m *Metrics) OutboxFailed(eventType string) {
	if m == nil {
		return
	}
	m.outboxFailed.WithLabelValues(eventType).Inc()
}

// SetOutboxBacklog publishes the pending and exhausted row counts.
func (m *Metrics) SetOutboxBacklog(pending, exhausted int) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	m.outboxExhausted.Set(float64(exhausted))
}

func (m *Metrics) Escalated(reason string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(reason).Inc()
}

func (m *Metrics) SweepFailed() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}

// ObserveSweep records how long a sweep named name took.
func (m *Metrics) ObserveSweep(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ReminderSent() {
	if m == nil {
		return
	}
	m.reminders.Inc()
}
