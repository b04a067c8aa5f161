package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/tmem"
)

// promMetrics implements tmem.MetricsCollector on Prometheus metrics.
type promMetrics struct {
	ops        *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	drained    prometheus.Counter
	violations prometheus.Counter
}

var _ tmem.MetricsCollector = (*promMetrics)(nil)

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	m := &promMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tmem_operations_total",
			Help: "Cache operations by outcome",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tmem_operation_latency_seconds",
			Help:    "Latency of cache operations",
			Buckets: prometheus.ExponentialBuckets(100e-9, 4, 10), // 100ns .. ~26ms
		}, []string{"op"}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmem_drained_pages_total",
			Help: "Pages dropped by invalidate-all",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmem_protocol_violations_total",
			Help: "Detected slot ownership violations",
		}),
	}

	reg.MustRegister(m.ops, m.latency, m.drained, m.violations)
	return m
}

// registerCacheGauges exports the occupancy of c.
func registerCacheGauges(reg prometheus.Registerer, c *tmem.Cache) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tmem_current_pages",
			Help: "Pages currently cached",
		}, func() float64 { return float64(c.CurrentPages()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tmem_capacity_pages",
			Help: "Fixed number of page slots",
		}, func() float64 { return float64(c.Capacity()) }),
	)
}

func (m *promMetrics) RecordStore(d time.Duration, replaced bool, err error) {
	status := "ok"
	switch {
	case errors.Is(err, tmem.ErrOutOfSlots):
		status = "full"
	case err != nil:
		status = "error"
	case replaced:
		status = "replaced"
	}
	m.ops.WithLabelValues("store", status).Inc()
	m.latency.WithLabelValues("store").Observe(d.Seconds())
}

func (m *promMetrics) RecordLoad(d time.Duration, err error) {
	status := "ok"
	switch {
	case errors.Is(err, tmem.ErrNotFound):
		status = "miss"
	case err != nil:
		status = "error"
	}
	m.ops.WithLabelValues("load", status).Inc()
	m.latency.WithLabelValues("load").Observe(d.Seconds())
}

func (m *promMetrics) RecordInvalidate(d time.Duration, found bool) {
	status := "ok"
	if !found {
		status = "miss"
	}
	m.ops.WithLabelValues("invalidate", status).Inc()
	m.latency.WithLabelValues("invalidate").Observe(d.Seconds())
}

func (m *promMetrics) RecordInvalidateAll(drained int, d time.Duration) {
	m.ops.WithLabelValues("invalidate_all", "ok").Inc()
	m.latency.WithLabelValues("invalidate_all").Observe(d.Seconds())
	m.drained.Add(float64(drained))
}

func (m *promMetrics) RecordViolation(error) {
	m.violations.Inc()
}

// serveMetrics starts the /metrics endpoint on addr. It returns the bound
// address and a function that shuts the server down.
func serveMetrics(addr string, gatherer prometheus.Gatherer) (net.Addr, func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() { _ = srv.Serve(ln) }()

	return ln.Addr(), srv.Shutdown, nil
}
