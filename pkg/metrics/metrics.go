// Package metrics exposes proxy and HTTP activity as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
)

const namespace = "dispatch_proxy"

// Metrics owns a private registry so several instances can coexist in tests
type Metrics struct {
	registry *prometheus.Registry
	start    time.Time

	batches          *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	instructions     prometheus.Counter
	obligations      prometheus.Counter
	refunded         prometheus.Counter
	depositsRejected prometheus.Counter

	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpBytes    *prometheus.CounterVec
}

// New creates the metric set. registrySize may be nil.
func New(registrySize func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Finished batches by final status",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time spent executing a batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"status"}),
		instructions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_total",
			Help:      "Instructions submitted in batches",
		}),
		obligations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obligations_total",
			Help:      "Post-process obligations run by committed batches",
		}),
		refunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_wei_total",
			Help:      "Native value returned to callers by the default refund",
		}),
		depositsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_rejected_total",
			Help:      "Direct deposits refused by the proxy",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_invocations_total",
			Help:      "Handler invocations by handler, phase and result",
		}, []string{"handler", "phase", "result"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler invocation latency",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"handler", "phase"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_response_bytes_total",
			Help:      "Bytes written in HTTP responses",
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.batches, m.batchDuration, m.instructions, m.obligations, m.refunded, m.depositsRejected,
		m.invocations, m.invocationDuration,
		m.httpRequests, m.httpDuration, m.httpBytes,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the server started",
		}, func() float64 { return time.Since(m.start).Seconds() }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if registrySize != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_handlers",
			Help:      "Handler identifiers currently bound in the registry",
		}, func() float64 { return float64(registrySize()) }))
	}
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBatch records a finished batch
func (m *Metrics) ObserveBatch(batch *models.Batch, instructions int, refund *uint256.Int, elapsed time.Duration) {
	status := string(batch.Status)
	m.batches.WithLabelValues(status).Inc()
	m.batchDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	m.instructions.Add(float64(instructions))

	if batch.Status != models.BatchStatusCommitted {
		return
	}
	m.obligations.Add(float64(batch.ObligationsRun))
	if refund != nil && !refund.IsZero() {
		wei, _ := new(big.Float).SetInt(refund.ToBig()).Float64()
		m.refunded.Add(wei)
	}
}

// ObserveDepositRejected counts a refused direct deposit
func (m *Metrics) ObserveDepositRejected() {
	m.depositsRejected.Inc()
}

// Middleware times every handler invocation
func (m *Metrics) Middleware() proxy.Middleware {
	return func(ctx context.Context, inv *proxy.Invocation, next proxy.Next) ([]byte, error) {
		start := time.Now()
		out, err := next(ctx)

		phase := string(inv.Phase)
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.invocations.WithLabelValues(inv.Handler, phase, result).Inc()
		m.invocationDuration.WithLabelValues(inv.Handler, phase).Observe(time.Since(start).Seconds())
		return out, err
	}
}

// HTTPMiddleware counts requests. route labels the request, typically the
// matched route template, so that path parameters do not explode cardinality.
func (m *Metrics) HTTPMiddleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			label := route(r)
			m.httpRequests.WithLabelValues(r.Method, label, fmt.Sprintf("%d", rw.statusCode)).Inc()
			m.httpDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
			if rw.bytesWritten > 0 {
				m.httpBytes.WithLabelValues(r.Method, label).Add(float64(rw.bytesWritten))
			}
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}
