package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// Liveness always returns 200 while the process is serving.
func (c *Checker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, Status{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// Readiness returns 200 when every dependency is reachable and 503 otherwise.
func (c *Checker) Readiness(w http.ResponseWriter, r *http.Request) {
	st := c.Check(r.Context())
	code := http.StatusOK
	if !st.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, st)
}

func writeStatus(w http.ResponseWriter, code int, st Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}
