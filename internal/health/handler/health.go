// Package handler serves liveness and readiness over HTTP and the standard gRPC health service.
package handler

import (
	"context"
	"time"
)

// Pinger is used for readiness (e.g. *sql.DB). PingContext is called on each readiness check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the OPA session grant evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Status is the readiness report.
type Status struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Healthy reports whether every dependency check passed.
func (s Status) Healthy() bool { return s.Status == StatusHealthy }

// Checker runs the readiness checks. A nil Pinger or PolicyChecker is skipped.
type Checker struct {
	pinger  Pinger
	policy  PolicyChecker
	timeout time.Duration
}

// NewChecker returns a Checker. Each check is bounded by a 5s timeout.
func NewChecker(pinger Pinger, policy PolicyChecker) *Checker {
	return &Checker{pinger: pinger, policy: policy, timeout: 5 * time.Second}
}

// Check runs every configured dependency check. Failure details are reported as "error" only;
// driver messages are not exposed to probes.
func (c *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	st := Status{Status: StatusHealthy, Timestamp: time.Now().UTC(), Checks: map[string]string{}}
	if c.pinger != nil {
		st.Checks["database"] = result(c.pinger.PingContext(ctx))
	}
	if c.policy != nil {
		st.Checks["policy"] = result(c.policy.HealthCheck(ctx))
	}
	for _, v := range st.Checks {
		if v != "ok" {
			st.Status = StatusUnhealthy
		}
	}
	return st
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
