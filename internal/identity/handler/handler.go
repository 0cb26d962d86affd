// Package handler exposes the identity service over HTTP/JSON. Refresh tokens travel only in
// realm-named HttpOnly cookies; access tokens are returned in response bodies.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"trade-identity/internal/identity/service"
	"trade-identity/internal/logging"
	"trade-identity/internal/server/interceptors"
)

// maxBodyBytes bounds request bodies; every endpoint takes a handful of short strings.
const maxBodyBytes = 64 << 10

// Handler serves the /auth endpoints.
type Handler struct {
	svc     *service.Service
	cookies CookieConfig
	log     logrus.FieldLogger
}

// New returns a Handler. A nil log discards.
func New(svc *service.Service, cookies CookieConfig, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	if cookies.MaxAge == 0 {
		cookies.MaxAge = svc.RefreshTTL()
	}
	return &Handler{svc: svc, cookies: cookies, log: log}
}

// RegisterRoutes registers the /auth routes on router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", h.login).Methods(http.MethodPost)
	auth.HandleFunc("/tenant/login", h.tenantLogin).Methods(http.MethodPost)
	auth.HandleFunc("/admin/login", h.adminLogin).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", h.forgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", h.resetPassword).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", h.verifyEmail).Methods(http.MethodPost)
	auth.HandleFunc("/resend-verification", h.resendVerification).Methods(http.MethodPost)
	auth.Handle("/session", interceptors.RequireBearer(h.svc)(http.HandlerFunc(h.session))).Methods(http.MethodGet)
}

// clientMeta returns the metadata resolved by interceptors.RequestMetadata, or the TCP peer and
// sanitized user agent when the middleware is not installed.
func clientMeta(r *http.Request) service.ClientMeta {
	if c, ok := interceptors.GetClient(r.Context()); ok {
		return service.ClientMeta{IP: c.IP, UserAgent: c.UserAgent}
	}
	return service.ClientMeta{IP: interceptors.ClientIP(r, nil), UserAgent: interceptors.UserAgent(r)}
}

// decode reads a JSON body into v. Any decoding failure is reported as a validation error on "body".
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		msg := "request body must be a JSON object"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		}
		writeError(w, http.StatusBadRequest, errorBody{Code: codeValidation, Field: "body", Message: msg})
		return false
	}
	return true
}
