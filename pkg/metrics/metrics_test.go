package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.Operation("initiate_signup", "ok")
	m.Operation("initiate_signup", "ok")
	m.MailFailure("signup_verification")
	m.FraudSuspected()
	m.CleanupDeleted("detached", 3)
	m.CleanupDeleted("detached", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("initiate_signup", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mailFailures.WithLabelValues("signup_verification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fraudSuspected))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cleanupDeleted.WithLabelValues("detached")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Operation("x", "y")
	m.MailFailure("x")
	m.FraudSuspected()
	m.CleanupDeleted("x", 1)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	assert.NotNil(t, h)
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/items/{id}", "418")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "email_identity_http_requests_total")
}

func TestNew_RegistersTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	second.FraudSuspected()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.fraudSuspected), "second instance must share the registered collectors")
}
