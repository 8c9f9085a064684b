// Package metrics exposes Prometheus counters for hosted play.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"questline/internal/domain"
)

const namespace = "questline"

// Metrics owns its registry so tests and embedded hosts don't share global
// state. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsStarted   *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	XPAwarded         *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Hosted sessions started, by campaign.",
		}, []string{"campaign_id"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State machine transitions, by campaign and kind.",
		}, []string{"campaign_id", "kind"}),
		XPAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Experience awarded to players, by campaign.",
		}, []string{"campaign_id"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Rejected play operations, by operation and error code.",
		}, []string{"operation", "code"}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsStarted,
		m.Transitions,
		m.XPAwarded,
		m.OperationErrors,
		m.WebhookDeliveries,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted(campaignID string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(campaignID).Inc()
}

func (m *Metrics) ObserveTransition(campaignID string, t domain.Transition) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(campaignID, string(t.Kind)).Inc()
	if t.XPAwarded > 0 {
		m.XPAwarded.WithLabelValues(campaignID).Add(float64(t.XPAwarded))
	}
}

func (m *Metrics) ObserveError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.OperationErrors.WithLabelValues(operation, string(domain.CodeOf(err))).Inc()
}

func (m *Metrics) WebhookDelivered(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.WebhookDeliveries.WithLabelValues(outcome).Inc()
}
