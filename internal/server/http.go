// Package server composes the HTTP router and the gRPC health server.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	healthhandler "trade-identity/internal/health/handler"
	identityhandler "trade-identity/internal/identity/handler"
	"trade-identity/internal/logging"
	"trade-identity/internal/metrics"
	"trade-identity/internal/server/interceptors"
)

// ServiceName names the HTTP spans.
const ServiceName = "trade-identity"

// Deps holds what the HTTP surface serves. Health and Registry are optional.
type Deps struct {
	Identity *identityhandler.Handler
	// Health serves /healthz and /readyz. If nil, the probes are not registered.
	Health *healthhandler.Checker
	// Metrics records request metrics; Registry is exposed on /metrics. Either may be nil.
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	// CORSOrigins are the browser origins allowed to call /auth with credentials.
	CORSOrigins []string
	// TrustedProxies may set X-Forwarded-For and X-Real-IP; nil trusts only the TCP peer.
	TrustedProxies interceptors.TrustedProxies
	Log            logrus.FieldLogger
}

// probePaths are not access-logged.
var probePaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// NewRouter returns the instrumented HTTP handler: otelhttp, then CORS, then the mux with request
// metadata, access logging and request metrics.
func NewRouter(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}

	router := mux.NewRouter()
	router.Use(interceptors.RequestMetadata(deps.TrustedProxies))
	router.Use(interceptors.AccessLog(log, probePaths))
	router.Use(metrics.HTTPMiddleware(deps.Metrics))

	if deps.Health != nil {
		router.HandleFunc("/healthz", deps.Health.Liveness).Methods(http.MethodGet)
		router.HandleFunc("/readyz", deps.Health.Readiness).Methods(http.MethodGet)
	}
	if deps.Registry != nil {
		router.Handle("/metrics", metrics.Handler(deps.Registry)).Methods(http.MethodGet)
	}
	if deps.Identity != nil {
		deps.Identity.RegisterRoutes(router)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return otelhttp.NewHandler(c.Handler(router), ServiceName)
}

// NewHTTPServer returns an http.Server with conservative timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
