package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"trade-identity/internal/identity/service"
)

// Error codes returned in JSON error bodies.
const (
	codeValidation         = "validation_error"
	codeInvalidCredentials = "invalid_credentials"
	codeForbidden          = "forbidden"
	codeRateLimited        = "rate_limited"
	codeInvalidSession     = "invalid_session"
	codeInvalidToken       = "invalid_token"
	codeInternal           = "internal_error"
)

// Messages are fixed per code so that a response never reveals which check failed.
const (
	msgInvalidCredentials = "invalid email or password"
	msgForbidden          = "access to this tenant is not permitted"
	msgRateLimited        = "too many attempts, try again later"
	msgInvalidSession     = "no valid session"
	msgInvalidToken       = "the link is invalid or has expired"
	msgInternal           = "internal error"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

// retryAfterSeconds rounds up so clients never retry before the window reopens.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// writeServiceError maps a service failure to a status and a generic body. Token kinds are the
// emailed-link failures of account flows; refresh failures never reach here.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var e *service.Error
	if !errors.As(err, &e) {
		h.log.WithFields(logrus.Fields{"op": op, "error": err.Error()}).Error("unclassified service error")
		writeError(w, http.StatusInternalServerError, errorBody{Code: codeInternal, Message: msgInternal})
		return
	}
	switch e.Kind {
	case service.KindValidation:
		writeError(w, http.StatusBadRequest, errorBody{Code: codeValidation, Field: e.Field, Message: e.Message})
	case service.KindInvalidCredentials, service.KindUnverified:
		writeError(w, http.StatusUnauthorized, errorBody{Code: codeInvalidCredentials, Message: msgInvalidCredentials})
	case service.KindNoMembership, service.KindInactiveTenant:
		writeError(w, http.StatusForbidden, errorBody{Code: codeForbidden, Message: msgForbidden})
	case service.KindRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(e.RetryAfter)))
		writeError(w, http.StatusTooManyRequests, errorBody{Code: codeRateLimited, Message: msgRateLimited})
	case service.KindInvalidToken, service.KindExpired, service.KindRevoked:
		writeError(w, http.StatusBadRequest, errorBody{Code: codeInvalidToken, Message: msgInvalidToken})
	case service.KindRealmMismatch, service.KindReplayDetected:
		writeError(w, http.StatusUnauthorized, errorBody{Code: codeInvalidSession, Message: msgInvalidSession})
	default:
		writeError(w, http.StatusInternalServerError, errorBody{Code: codeInternal, Message: msgInternal})
	}
}
