// Package metrics serves Prometheus-format metrics for all components.
// Counters are registered where they are incremented via the
// VictoriaMetrics metrics package; this server only exposes them.
package metrics

import (
	"context"
	"net/http"
	"time"

	vmmetrics "github.com/VictoriaMetrics/metrics"
)

// MetricsServer exposes the process metrics on a dedicated listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. The address may
// be empty, in which case ListenAndServe is a no-op.
func New(name, addr string) (*MetricsServer, error) {
	if addr == "" {
		return &MetricsServer{}, nil
	}

	vmmetrics.GetOrCreateCounter(`up{service="` + name + `"}`).Set(1)

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		vmmetrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics requests.
func (m *MetricsServer) ListenAndServe() error {
	if m.srv == nil {
		return nil
	}
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
