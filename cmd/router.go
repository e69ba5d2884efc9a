package main

import (
	"io"
	"net/http"

	"github.com/angeloszaimis/tunnel-relay/internal/backend"
	"github.com/angeloszaimis/tunnel-relay/internal/metrics"
)

// setupAdminRouter serves operational endpoints on their own listener so the
// relay listener never routes.
func setupAdminRouter(metricsCollector *metrics.Collector, tunnel *backend.Tunnel) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics", metricsCollector.Handler(tunnel))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "ok")
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if !tunnel.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, "tunnel down")
			return
		}
		io.WriteString(w, "ready")
	})

	return mux
}
