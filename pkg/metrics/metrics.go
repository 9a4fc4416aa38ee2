// Package metrics holds the Prometheus collectors of the email identity subsystem.
//
// A nil *Metrics is valid and records nothing, so libraries can accept one optionally.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "email_identity"

type Metrics struct {
	operations     *prometheus.CounterVec
	mailFailures   *prometheus.CounterVec
	fraudSuspected prometheus.Counter
	cleanupDeleted *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	gatherer       prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a fresh
// registry, which keeps tests independent of the global default.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Verification operations by name and result code",
		}, []string{"operation", "result"}),
		mailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_failures_total",
			Help:      "Outbound notices that could not be delivered",
		}, []string{"notice"}),
		fraudSuspected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_suspected_total",
			Help:      "Organization signups flagged by the fraud heuristics",
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Rows removed by the cleanup sweeps",
		}, []string{"sweep"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.mailFailures, err = register(reg, m.mailFailures); err != nil {
		return nil, err
	}
	if m.fraudSuspected, err = register(reg, m.fraudSuspected); err != nil {
		return nil, err
	}
	if m.cleanupDeleted, err = register(reg, m.cleanupDeleted); err != nil {
		return nil, err
	}
	if m.httpRequests, err = register(reg, m.httpRequests); err != nil {
		return nil, err
	}
	if m.httpDuration, err = register(reg, m.httpDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses an identical collector that is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Operation(name, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, result).Inc()
}

func (m *Metrics) MailFailure(notice string) {
	if m == nil {
		return
	}
	m.mailFailures.WithLabelValues(notice).Inc()
}

func (m *Metrics) FraudSuspected() {
	if m == nil {
		return
	}
	m.fraudSuspected.Inc()
}

func (m *Metrics) CleanupDeleted(sweep string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeleted.WithLabelValues(sweep).Add(float64(n))
}

// Middleware records request counts and latency labelled by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
