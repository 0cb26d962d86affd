package service

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	accountdomain "trade-identity/internal/accounttoken/domain"
	"trade-identity/internal/audit"
	auditdomain "trade-identity/internal/audit/domain"
	"trade-identity/internal/mail"
	"trade-identity/internal/ratelimit"
	"trade-identity/internal/realm"
	"trade-identity/internal/security"
	"trade-identity/internal/tenancy"
	userdomain "trade-identity/internal/user/domain"
)

const (
	resetPath  = "/reset-password"
	verifyPath = "/verify-email"
)

// EmailRequest starts a flow for an address. The response never reveals whether the address exists.
type EmailRequest struct {
	Email  string
	Client ClientMeta
}

// ResetPasswordRequest completes a password reset with the emailed token.
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
	Client      ClientMeta
}

// VerifyEmailRequest completes email verification with the emailed token.
type VerifyEmailRequest struct {
	Token  string
	Client ClientMeta
}

// ForgotPassword mails a reset link when the address belongs to an active user. Earlier unused
// links for the user stop working.
func (s *Service) ForgotPassword(ctx context.Context, req EmailRequest) error {
	email := userdomain.NormalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := s.admit(ctx, realm.Tenant, ratelimit.EndpointForgotPassword, email, req.Client, auditdomain.ActionAccountFlowBlocked); err != nil {
		return err
	}
	msg, userID, err := s.issueLink(ctx, accountdomain.PurposePasswordReset, email, func(u *userdomain.User) bool {
		return u.Active()
	})
	if err != nil {
		return s.internal(err, "forgot password")
	}
	s.deliver(ctx, msg)
	s.Audit.Emit(ctx, audit.Event{
		Action:   auditdomain.ActionPasswordResetRequest,
		Realm:    realm.Tenant,
		ActorID:  userID,
		IP:       req.Client.IP,
		Metadata: map[string]string{"email_key": security.HashKey("email", email), "sent": strconv.FormatBool(msg != nil)},
	})
	s.Recorder.ObserveAccountFlow(string(auditdomain.ActionPasswordResetRequest))
	return nil
}

// ResendVerification mails a fresh verification link when the address belongs to an active,
// unverified user.
func (s *Service) ResendVerification(ctx context.Context, req EmailRequest) error {
	email := userdomain.NormalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := s.admit(ctx, realm.Tenant, ratelimit.EndpointResendVerification, email, req.Client, auditdomain.ActionAccountFlowBlocked); err != nil {
		return err
	}
	msg, userID, err := s.issueLink(ctx, accountdomain.PurposeEmailVerification, email, func(u *userdomain.User) bool {
		return u.Active() && !u.Verified()
	})
	if err != nil {
		return s.internal(err, "resend verification")
	}
	if msg == nil {
		return nil
	}
	s.deliver(ctx, msg)
	s.Audit.Emit(ctx, audit.Event{
		Action:  auditdomain.ActionVerificationSent,
		Realm:   realm.Tenant,
		ActorID: userID,
		IP:      req.Client.IP,
	})
	s.Recorder.ObserveAccountFlow(string(auditdomain.ActionVerificationSent))
	return nil
}

// issueLink creates a single-use token for the user with email when eligible reports true, and
// returns the message to deliver after commit. A nil message means nothing is sent.
func (s *Service) issueLink(ctx context.Context, purpose accountdomain.Purpose, email string, eligible func(*userdomain.User) bool) (*mail.Message, string, error) {
	var (
		msg    *mail.Message
		userID string
	)
	now := s.now().UTC()
	err := s.Runner.WithContext(ctx, tenancy.Auth(realm.Tenant), func(ctx context.Context) error {
		u, err := s.Users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if u == nil || !eligible(u) {
			return nil
		}
		if _, err := s.AccountTokens.InvalidateForUser(ctx, purpose, u.ID, now); err != nil {
			return err
		}
		// Link tokens share the refresh token format, so ValidateOpaqueToken screens them too.
		plaintext, hash, err := security.NewRefreshToken()
		if err != nil {
			return err
		}
		ttl, path, kind := s.opts.ResetTTL, resetPath, mail.KindPasswordReset
		if purpose == accountdomain.PurposeEmailVerification {
			ttl, path, kind = s.opts.VerifyTTL, verifyPath, mail.KindEmailVerification
		}
		if err := s.AccountTokens.Create(ctx, &accountdomain.Token{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			Purpose:   purpose,
			TokenHash: hash,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		userID = u.ID
		msg = &mail.Message{To: u.Email, Kind: kind, Link: mail.BuildLink(s.opts.AppBaseURL, path, plaintext)}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return msg, userID, nil
}

// ResetPassword consumes a reset token, replaces the password hash, and revokes every live refresh
// token of the user.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if security.ValidateOpaqueToken(req.Token) != nil {
		return failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return err
	}
	if err := s.admit(ctx, realm.Tenant, ratelimit.EndpointResetPassword, "", req.Client, auditdomain.ActionAccountFlowBlocked); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash([]byte(req.NewPassword))
	if err != nil {
		return s.internal(err, "reset password")
	}

	var (
		userID  string
		revoked int64
	)
	now := s.now().UTC()
	err = s.Runner.WithContext(ctx, tenancy.Auth(realm.Tenant), func(ctx context.Context) error {
		u, err := s.consumeLink(ctx, accountdomain.PurposePasswordReset, req.Token, now)
		if err != nil {
			return err
		}
		userID = u.ID
		if err := s.Users.UpdatePasswordHash(ctx, u.ID, hash, now); err != nil {
			return err
		}
		revoked, err = s.RefreshTokens.RevokeByUser(ctx, u.ID, now)
		return err
	})
	if err != nil {
		return s.accountFailed(ctx, auditdomain.ActionPasswordResetFailed, req.Client, err)
	}
	s.Audit.Emit(ctx, audit.Event{
		Action:   auditdomain.ActionPasswordReset,
		Realm:    realm.Tenant,
		ActorID:  userID,
		IP:       req.Client.IP,
		Metadata: map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)},
	})
	s.Recorder.ObserveAccountFlow(string(auditdomain.ActionPasswordReset))
	return nil
}

// VerifyEmail consumes a verification token and marks the user's address verified.
func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) error {
	if security.ValidateOpaqueToken(req.Token) != nil {
		return failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	if err := s.admit(ctx, realm.Tenant, ratelimit.EndpointVerifyEmail, "", req.Client, auditdomain.ActionAccountFlowBlocked); err != nil {
		return err
	}
	var userID string
	now := s.now().UTC()
	err := s.Runner.WithContext(ctx, tenancy.Auth(realm.Tenant), func(ctx context.Context) error {
		u, err := s.consumeLink(ctx, accountdomain.PurposeEmailVerification, req.Token, now)
		if err != nil {
			return err
		}
		userID = u.ID
		return s.Users.MarkEmailVerified(ctx, u.ID, now)
	})
	if err != nil {
		return s.accountFailed(ctx, auditdomain.ActionEmailVerifyFailed, req.Client, err)
	}
	s.Audit.Emit(ctx, audit.Event{
		Action:  auditdomain.ActionEmailVerified,
		Realm:   realm.Tenant,
		ActorID: userID,
		IP:      req.Client.IP,
	})
	s.Recorder.ObserveAccountFlow(string(auditdomain.ActionEmailVerified))
	return nil
}

// consumeLink looks up and consumes a link token in one conditional write and returns its active user.
func (s *Service) consumeLink(ctx context.Context, purpose accountdomain.Purpose, token string, now time.Time) (*userdomain.User, error) {
	t, err := s.AccountTokens.GetByHash(ctx, purpose, security.HashRefreshToken(token))
	if err != nil {
		return nil, err
	}
	if t == nil || t.UsedAt != nil {
		return nil, failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	if !t.Usable(now) {
		return nil, failure(KindExpired, auditdomain.ReasonExpired)
	}
	ok, err := s.AccountTokens.Consume(ctx, purpose, t.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	u, err := s.Users.GetByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	return u, nil
}

func (s *Service) accountFailed(ctx context.Context, action auditdomain.Action, client ClientMeta, err error) error {
	e, ok := asError(err)
	if !ok {
		return s.internal(err, string(action))
	}
	s.Audit.Emit(ctx, audit.Event{Action: action, Realm: realm.Tenant, Reason: e.Reason, IP: client.IP})
	s.Recorder.ObserveAccountFlow(string(action))
	return e
}

// deliver sends msg after commit. Delivery is fire-and-forget: failures are only logged.
func (s *Service) deliver(ctx context.Context, msg *mail.Message) {
	if msg == nil {
		return
	}
	if err := s.Mail.Send(context.WithoutCancel(ctx), *msg); err != nil {
		s.Log.WithFields(logrus.Fields{"kind": msg.Kind, "error": err.Error()}).Warn("mail: send failed")
	}
}

func (s *Service) internal(err error, op string) error {
	s.Log.WithFields(logrus.Fields{"op": op, "error": err.Error()}).Error("identity: internal error")
	return failure(KindInternal, auditdomain.ReasonInternal)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return validationError("email", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return validationError("email", "invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return validationError("password", "password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return validationError("password", "password must contain at least one uppercase letter")
	case !hasLower:
		return validationError("password", "password must contain at least one lowercase letter")
	case !hasNumber:
		return validationError("password", "password must contain at least one number")
	case !hasSymbol:
		return validationError("password", "password must contain at least one symbol")
	}
	return nil
}
