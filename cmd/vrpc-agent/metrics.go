package main

import (
	"net/http"

	"github.com/oriys/vrpc/internal/logging"
	"github.com/oriys/vrpc/internal/metrics"
)

// serveMetrics exposes m over HTTP on addr in the background; failures are
// logged, not fatal — metrics are observability, not a runtime dependency.
func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())

	go func() {
		logging.Op().Info("metrics endpoint listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Op().Error("metrics endpoint stopped", "error", err)
		}
	}()
}
