package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"questline/internal/domain"
	"questline/internal/metrics"
)

func TestObserveTransition(t *testing.T) {
	m := metrics.New()
	m.ObserveTransition("keep", domain.Transition{Kind: domain.TransitionAdvanced, XPAwarded: 15})
	m.ObserveTransition("keep", domain.Transition{Kind: domain.TransitionGameOver})

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("keep", "advanced")); got != 1 {
		t.Fatalf("advanced = %v", got)
	}
	if got := testutil.ToFloat64(m.XPAwarded.WithLabelValues("keep")); got != 15 {
		t.Fatalf("xp = %v", got)
	}
}

func TestObserveErrorUsesCode(t *testing.T) {
	m := metrics.New()
	m.ObserveError("make_choice", domain.NewError(domain.CodeUnknownChoice, "nope"))
	if got := testutil.ToFloat64(m.OperationErrors.WithLabelValues("make_choice", "UNKNOWN_CHOICE")); got != 1 {
		t.Fatalf("errors = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.SessionStarted("keep")
	m.ObserveTransition("keep", domain.Transition{Kind: domain.TransitionLeft})
	m.WebhookDelivered(true)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New()
	m.SessionStarted("keep")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `questline_sessions_started_total{campaign_id="keep"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
