// Package metrics exposes job progress as Prometheus metrics and can serve
// them on a /metrics endpoint for the lifetime of a run.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/johndauphine/db-search-replace/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "search_replace"

// Invocation outcomes.
const (
	OutcomeComplete = "complete"
	OutcomeYielded  = "yielded"
	OutcomeFailed   = "failed"
)

// Collector records engine events. Each Collector owns its registry so
// several can coexist in one process (tests, repeated runs).
type Collector struct {
	registry *prometheus.Registry

	rowsProcessed   *prometheus.CounterVec
	rowsChanged     *prometheus.CounterVec
	tablesCompleted prometheus.Counter
	rowsExpected    prometheus.Gauge
	tablesTotal     prometheus.Gauge
	invocations     *prometheus.CounterVec
	invocationTime  prometheus.Histogram
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows scanned by the rewriter.",
		}, []string{"table"}),
		rowsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_changed_total",
			Help:      "Rows whose rewritten values differed from the stored ones.",
		}, []string{"table"}),
		tablesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_completed_total",
			Help:      "Tables fully processed.",
		}),
		rowsExpected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_expected",
			Help:      "Rows counted across all tables when the job started.",
		}),
		tablesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tables_total",
			Help:      "Tables in the job.",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Engine invocations by outcome.",
		}, []string{"outcome"}),
		invocationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock time of each engine invocation.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
	}
	c.registry.MustRegister(
		c.rowsProcessed,
		c.rowsChanged,
		c.tablesCompleted,
		c.rowsExpected,
		c.tablesTotal,
		c.invocations,
		c.invocationTime,
	)
	return c
}

// Resume sets the gauges from a stored checkpoint.
func (c *Collector) Resume(rowsExpected int64, tables int) {
	if rowsExpected > 0 {
		c.rowsExpected.Set(float64(rowsExpected))
	}
	c.tablesTotal.Set(float64(tables))
}

// JobCounted implements engine.Observer.
func (c *Collector) JobCounted(tables int, rows int64) {
	c.rowsExpected.Set(float64(rows))
	c.tablesTotal.Set(float64(tables))
}

// TableStarted implements engine.Observer.
func (c *Collector) TableStarted(table string, rows int64) {
	// Materialize the series so a table with no changes still reports zero.
	c.rowsProcessed.WithLabelValues(table)
	c.rowsChanged.WithLabelValues(table)
}

// RowProcessed implements engine.Observer.
func (c *Collector) RowProcessed(table string, changed bool) {
	c.rowsProcessed.WithLabelValues(table).Inc()
	if changed {
		c.rowsChanged.WithLabelValues(table).Inc()
	}
}

// TableCompleted implements engine.Observer.
func (c *Collector) TableCompleted(table string) {
	c.tablesCompleted.Inc()
}

// RecordInvocation counts one engine invocation.
func (c *Collector) RecordInvocation(outcome string, d time.Duration) {
	c.invocations.WithLabelValues(outcome).Inc()
	c.invocationTime.Observe(d.Seconds())
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is done. The returned
// channel yields the listener's terminal error, if any.
func (c *Collector) Serve(ctx context.Context, addr string) (<-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Metrics server shutdown: %v", err)
		}
	}()

	logging.Info("Serving metrics on http://%s/metrics", ln.Addr())
	return errc, nil
}
