// Package ratelimit gates authentication endpoints with a sliding-window attempt log keyed
// independently by caller IP and by normalized email.
//
// The check and the record are two separate store calls. Concurrent requests can both pass the
// check before either records, so admission can exceed the threshold by at most the number of
// in-flight requests for the same key.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"trade-identity/internal/realm"
	"trade-identity/internal/security"
)

// Endpoint names the gated operation. Attempts are counted per endpoint.
type Endpoint string

const (
	EndpointLogin              Endpoint = "login"
	EndpointForgotPassword     Endpoint = "forgot_password"
	EndpointResetPassword      Endpoint = "reset_password"
	EndpointVerifyEmail        Endpoint = "verify_email"
	EndpointResendVerification Endpoint = "resend_verification"
)

// Trigger reports which dimension blocked a request.
type Trigger string

const (
	TriggerNone  Trigger = ""
	TriggerIP    Trigger = "ip"
	TriggerEmail Trigger = "email"
	TriggerBoth  Trigger = "both"
)

// ErrNoKey is returned when a request carries neither an IP nor an email.
var ErrNoKey = errors.New("ratelimit: request has no ip or email key")

// Attempt is one append-only entry in the attempt log.
type Attempt struct {
	HashedKey string
	Endpoint  Endpoint
	Realm     realm.Realm
	CreatedAt time.Time
}

// Window is the aggregate of one key's attempts inside the trailing window.
type Window struct {
	Count int
	// Nth is when the nth most recent attempt was made; zero when Count < n.
	Nth time.Time
}

// AttemptStore is the attempt log. Implementations never update or delete individual attempts;
// Prune drops whole ranges older than a retention cutoff.
type AttemptStore interface {
	Window(ctx context.Context, hashedKey string, endpoint Endpoint, since time.Time, n int) (Window, error)
	Record(ctx context.Context, attempts ...Attempt) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Request identifies the caller for one gated operation.
type Request struct {
	IP       string
	Email    string // already normalized
	Realm    realm.Realm
	Endpoint Endpoint
}

// Decision is Allow (Allowed true) or Block with the triggering dimension and how long to wait.
type Decision struct {
	Allowed    bool
	Trigger    Trigger
	RetryAfter time.Duration
}

// Allow is the decision for an admitted request.
func Allow() Decision { return Decision{Allowed: true} }

// Block is the decision for a throttled request.
func Block(trigger Trigger, retryAfter time.Duration) Decision {
	return Decision{Trigger: trigger, RetryAfter: retryAfter}
}

// Gate applies threshold-per-window limits to the attempt log.
type Gate struct {
	store     AttemptStore
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewGate returns a Gate allowing threshold attempts per key within window.
func NewGate(store AttemptStore, threshold int, window time.Duration) *Gate {
	return &Gate{store: store, threshold: threshold, window: window, now: time.Now}
}

// WithClock returns a copy of g that reads time from now.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	cp := *g
	cp.now = now
	return &cp
}

// Threshold returns the per-key attempt budget.
func (g *Gate) Threshold() int { return g.threshold }

// Window returns the trailing window length.
func (g *Gate) Window() time.Duration { return g.window }

// CheckAndMaybeBlock counts the IP key and the email key independently. If either has reached the
// threshold the request is blocked and nothing is recorded. Otherwise one attempt is recorded under
// each key and the request is allowed.
func (g *Gate) CheckAndMaybeBlock(ctx context.Context, req Request) (Decision, error) {
	keys := requestKeys(req)
	if len(keys) == 0 {
		return Decision{}, ErrNoKey
	}
	now := g.now()
	since := now.Add(-g.window)

	var (
		blockedIP, blockedEmail bool
		retryAfter              time.Duration
	)
	for _, k := range keys {
		w, err := g.store.Window(ctx, k.hash, req.Endpoint, since, g.threshold)
		if err != nil {
			return Decision{}, err
		}
		if w.Count < g.threshold {
			continue
		}
		if k.trigger == TriggerIP {
			blockedIP = true
		} else {
			blockedEmail = true
		}
		if ra := g.retryAfter(w, now); ra > retryAfter {
			retryAfter = ra
		}
	}

	switch {
	case blockedIP && blockedEmail:
		return Block(TriggerBoth, retryAfter), nil
	case blockedIP:
		return Block(TriggerIP, retryAfter), nil
	case blockedEmail:
		return Block(TriggerEmail, retryAfter), nil
	}

	attempts := make([]Attempt, 0, len(keys))
	for _, k := range keys {
		attempts = append(attempts, Attempt{HashedKey: k.hash, Endpoint: req.Endpoint, Realm: req.Realm, CreatedAt: now})
	}
	if err := g.store.Record(ctx, attempts...); err != nil {
		return Decision{}, err
	}
	return Allow(), nil
}

// retryAfter is the time until the threshold-th most recent attempt ages out, rounded up to a whole
// second. Only then does the count fall below the threshold, however far over it the key went.
func (g *Gate) retryAfter(w Window, now time.Time) time.Duration {
	if w.Nth.IsZero() {
		return g.window
	}
	d := w.Nth.Add(g.window).Sub(now)
	if d < time.Second {
		return time.Second
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

type gateKey struct {
	hash    string
	trigger Trigger
}

func requestKeys(req Request) []gateKey {
	keys := make([]gateKey, 0, 2)
	if req.IP != "" {
		keys = append(keys, gateKey{hash: security.HashKey("ip", req.IP), trigger: TriggerIP})
	}
	if req.Email != "" {
		keys = append(keys, gateKey{hash: security.HashKey("email", req.Email), trigger: TriggerEmail})
	}
	return keys
}
