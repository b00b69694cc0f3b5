// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every counter/gauge/histogram the worker records.
type Metrics struct {
	OperationsTotal      *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	ActiveConnections    prometheus.Gauge
	PartitionWriterWaitS *prometheus.HistogramVec
	registry             *prometheus.Registry
}

// New creates a Metrics instance registered against a private registry
// (so tests can create multiple instances without colliding on the
// default global registry).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_operations_total",
			Help: "Count of operation requests handled by the engine, by kind and outcome status.",
		}, []string{"kind", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_operation_duration_seconds",
			Help:    "Time spent servicing an operation request, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_active_connections",
			Help: "Number of task connections currently being serviced.",
		}),
		PartitionWriterWaitS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_partition_writer_wait_seconds",
			Help:    "Time spent waiting to acquire a partition's writer mutex.",
			Buckets: prometheus.DefBuckets,
		}, []string{"partition"}),
		registry: reg,
	}

	reg.MustRegister(m.OperationsTotal, m.OperationDuration, m.ActiveConnections, m.PartitionWriterWaitS)
	return m
}

// ObserveOperation records the outcome and latency of a single operation.
func (m *Metrics) ObserveOperation(kind, status string, start time.Time) {
	m.OperationsTotal.WithLabelValues(kind, status).Inc()
	m.OperationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Serve starts an HTTP listener on addr exposing /metrics and blocks
// until ctx is cancelled. A nil/empty addr means metrics are disabled.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
