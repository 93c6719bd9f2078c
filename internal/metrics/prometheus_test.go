package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestObserveRequestExposedViaHandler(t *testing.T) {
	m := New("vrpc")
	m.ObserveRequest("Calc", "add-numbernumber", "success", 0.001)
	m.IncCallbackEmission()
	m.SetInstancesLive("isolated", 3)
	m.IncReconnect()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"vrpc_requests_total",
		"vrpc_callback_emissions_total",
		"vrpc_instances_live",
		"vrpc_reconnects_total",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	// Must not panic.
	m.ObserveRequest("Calc", "add", "success", 0.001)
	m.IncCallbackEmission()
	m.SetInstancesLive("isolated", 1)
	m.IncReconnect()
	_ = m.Handler()
}
