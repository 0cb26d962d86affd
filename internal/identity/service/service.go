// Package service implements the session lifecycle: login, issuance, refresh rotation with replay
// detection, logout, and the password reset and email verification flows.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	accountdomain "trade-identity/internal/accounttoken/domain"
	admindomain "trade-identity/internal/admin/domain"
	"trade-identity/internal/audit"
	"trade-identity/internal/logging"
	"trade-identity/internal/mail"
	membershipdomain "trade-identity/internal/membership/domain"
	"trade-identity/internal/policy/engine"
	"trade-identity/internal/ratelimit"
	"trade-identity/internal/refreshtoken/domain"
	"trade-identity/internal/security"
	"trade-identity/internal/tenancy"
	tenantdomain "trade-identity/internal/tenant/domain"
	userdomain "trade-identity/internal/user/domain"
)

// UserRepo is the minimal user repository needed by the service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, at time.Time) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}

// AdminRepo is the minimal admin repository needed by the service.
type AdminRepo interface {
	GetByID(ctx context.Context, id string) (*admindomain.AdminUser, error)
	GetByEmail(ctx context.Context, email string) (*admindomain.AdminUser, error)
}

// TenantRepo is the minimal tenant repository needed by the service.
type TenantRepo interface {
	GetByID(ctx context.Context, id string) (*tenantdomain.Tenant, error)
}

// MembershipRepo is the minimal membership repository needed by the service.
type MembershipRepo interface {
	GetByUserAndTenant(ctx context.Context, userID, tenantID string) (*membershipdomain.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

// RefreshTokenRepo is the refresh token store. Claim must be a single conditional write.
type RefreshTokenRepo interface {
	GetByHash(ctx context.Context, tokenHash string) (*domain.Record, error)
	Create(ctx context.Context, r *domain.Record) error
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	RevokeByUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

// AccountTokenRepo stores password reset and email verification tokens.
type AccountTokenRepo interface {
	Create(ctx context.Context, t *accountdomain.Token) error
	GetByHash(ctx context.Context, purpose accountdomain.Purpose, tokenHash string) (*accountdomain.Token, error)
	Consume(ctx context.Context, purpose accountdomain.Purpose, id string, at time.Time) (bool, error)
	InvalidateForUser(ctx context.Context, purpose accountdomain.Purpose, userID string, at time.Time) (int64, error)
}

// Recorder receives outcome counts. *metrics.Metrics implements it.
type Recorder interface {
	ObserveLogin(realm, outcome string)
	ObserveRefresh(realm, outcome string)
	ObserveLogout(outcome string)
	ObserveRateLimited(endpoint, trigger string)
	ObserveFamilyRevoked(reason string)
	ObserveAccountFlow(action string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveLogin(string, string)       {}
func (noopRecorder) ObserveRefresh(string, string)     {}
func (noopRecorder) ObserveLogout(string)              {}
func (noopRecorder) ObserveRateLimited(string, string) {}
func (noopRecorder) ObserveFamilyRevoked(string)       {}
func (noopRecorder) ObserveAccountFlow(string)         {}

// Deps are the collaborators of Service. Recorder, Mail and Log are optional.
type Deps struct {
	Runner        tenancy.Executor
	Users         UserRepo
	Admins        AdminRepo
	Tenants       TenantRepo
	Memberships   MembershipRepo
	RefreshTokens RefreshTokenRepo
	AccountTokens AccountTokenRepo
	Hasher        *security.Hasher
	Keys          *security.Keyring
	Gate          *ratelimit.Gate
	Policy        engine.Evaluator
	Audit         audit.Emitter
	Mail          mail.Sender
	Recorder      Recorder
	Log           logrus.FieldLogger
}

// Options are the lifetimes and link settings of issued tokens.
type Options struct {
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	VerifyTTL  time.Duration
	// AppBaseURL is the web origin that serves the reset and verification pages.
	AppBaseURL string
}

// Service implements login, refresh rotation, logout and account flows.
type Service struct {
	Deps
	opts Options
	now  func() time.Time
}

// New returns a Service. It fails when a required collaborator is missing.
func New(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Runner == nil:
		return nil, errors.New("identity: runner is required")
	case deps.Users == nil || deps.Admins == nil || deps.Tenants == nil || deps.Memberships == nil:
		return nil, errors.New("identity: principal repositories are required")
	case deps.RefreshTokens == nil || deps.AccountTokens == nil:
		return nil, errors.New("identity: token repositories are required")
	case deps.Hasher == nil || deps.Keys == nil:
		return nil, errors.New("identity: hasher and keyring are required")
	case deps.Gate == nil || deps.Policy == nil || deps.Audit == nil:
		return nil, errors.New("identity: gate, policy and audit are required")
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	if deps.Mail == nil {
		deps.Mail = mail.NewLogSender(deps.Log)
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 168 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	if opts.VerifyTTL <= 0 {
		opts.VerifyTTL = 48 * time.Hour
	}
	return &Service{Deps: deps, opts: opts, now: time.Now}, nil
}

// WithClock returns a copy of s that reads time from now. Tests use it to move past expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// RefreshTTL is the lifetime of issued refresh tokens (the cookie Max-Age).
func (s *Service) RefreshTTL() time.Duration { return s.opts.RefreshTTL }

// ClientMeta identifies the caller's connection. It is recorded on tokens and audit records.
type ClientMeta struct {
	IP        string
	UserAgent string
}
