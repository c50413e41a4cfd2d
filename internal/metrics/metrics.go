// Package metrics exposes session counters to Prometheus, either served
// over HTTP or written to a node exporter textfile.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "dutkit"

// Metrics holds the counters of one session. It implements
// expect.Observer and the cache recorder.
type Metrics struct {
	reg   *prometheus.Registry
	runID string

	expects       *prometheus.CounterVec
	expectSeconds *prometheus.HistogramVec
	cacheEvents   *prometheus.CounterVec
	cases         *prometheus.CounterVec
	duts          *prometheus.GaugeVec
}

// New registers the session metrics on a fresh registry. Every series
// carries runID.
func New(runID string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg:   reg,
		runID: runID,
		expects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "expect_total",
			Help:      "Count of finished expectations by outcome",
		}, []string{"run_id", "outcome"}),
		expectSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "expect_duration_seconds",
			Help:      "Time spent waiting for expectations",
			Buckets:   []float64{.01, .1, .5, 1, 5, 10, 30, 60, 120},
		}, []string{"run_id", "outcome"}),
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_events_total",
			Help:      "Count of cache lookups and updates",
		}, []string{"run_id", "bucket", "event"}),
		cases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "test_cases_total",
			Help:      "Count of recorded test cases by result",
		}, []string{"run_id", "result"}),
		duts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "duts_open",
			Help:      "Number of assembled DUTs not yet closed",
		}, []string{"run_id"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveExpect records a finished expectation.
func (m *Metrics) ObserveExpect(outcome string, elapsed time.Duration) {
	m.expects.WithLabelValues(m.runID, outcome).Inc()
	m.expectSeconds.WithLabelValues(m.runID, outcome).Observe(elapsed.Seconds())
}

// CacheEvent records a cache hit, miss or set.
func (m *Metrics) CacheEvent(bucket, event string) {
	m.cacheEvents.WithLabelValues(m.runID, bucket, event).Inc()
}

// ObserveCase records a test case result.
func (m *Metrics) ObserveCase(result string) {
	m.cases.WithLabelValues(m.runID, result).Inc()
}

// DUTOpened and DUTClosed track the number of live DUTs.
func (m *Metrics) DUTOpened() { m.duts.WithLabelValues(m.runID).Inc() }
func (m *Metrics) DUTClosed() { m.duts.WithLabelValues(m.runID).Dec() }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WriteTextfile writes the current values to path for the node exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
