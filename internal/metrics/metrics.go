// Package metrics exposes Prometheus counters for authentication outcomes and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session metrics
	LoginsTotal            *prometheus.CounterVec
	RefreshesTotal         *prometheus.CounterVec
	LogoutsTotal           *prometheus.CounterVec
	RateLimitBlocksTotal   *prometheus.CounterVec
	FamilyRevocationsTotal *prometheus.CounterVec
	AccountFlowsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on registry, plus the Go runtime and process collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "identity_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_logins_total",
				Help: "Login attempts by realm and outcome reason",
			},
			[]string{"realm", "outcome"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_refreshes_total",
				Help: "Refresh rotations by realm and outcome reason",
			},
			[]string{"realm", "outcome"},
		),
		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_logouts_total",
				Help: "Logouts by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitBlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_rate_limit_blocks_total",
				Help: "Requests blocked by the rate limit gate",
			},
			[]string{"endpoint", "trigger"},
		),
		FamilyRevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_family_revocations_total",
				Help: "Refresh token families revoked, by reason",
			},
			[]string{"reason"},
		),
		AccountFlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_account_flows_total",
				Help: "Password reset and email verification operations by action",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.RefreshesTotal,
		m.LogoutsTotal,
		m.RateLimitBlocksTotal,
		m.FamilyRevocationsTotal,
		m.AccountFlowsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLogin counts one login outcome. outcome is "success" or the failure reason code.
func (m *Metrics) ObserveLogin(realm, outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(realm, outcome).Inc()
}

// ObserveRefresh counts one refresh outcome.
func (m *Metrics) ObserveRefresh(realm, outcome string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(realm, outcome).Inc()
}

// ObserveLogout counts one logout outcome.
func (m *Metrics) ObserveLogout(outcome string) {
	if m == nil {
		return
	}
	m.LogoutsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimited counts one blocked request.
func (m *Metrics) ObserveRateLimited(endpoint, trigger string) {
	if m == nil {
		return
	}
	m.RateLimitBlocksTotal.WithLabelValues(endpoint, trigger).Inc()
}

// ObserveFamilyRevoked counts one family-wide revocation.
func (m *Metrics) ObserveFamilyRevoked(reason string) {
	if m == nil {
		return
	}
	m.FamilyRevocationsTotal.WithLabelValues(reason).Inc()
}

// ObserveAccountFlow counts one account flow action.
func (m *Metrics) ObserveAccountFlow(action string) {
	if m == nil {
		return
	}
	m.AccountFlowsTotal.WithLabelValues(action).Inc()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware instruments requests. Routes are labelled by their mux path template so that
// path parameters do not create new series. A nil m passes requests through.
func HTTPMiddleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
