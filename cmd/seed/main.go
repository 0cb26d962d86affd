// seed inserts development sample data: one tenant with a verified owner and a buyer, plus a
// platform administrator. Idempotent: skips everything if the owner (owner@acme.test) already exists.
package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	admindomain "trade-identity/internal/admin/domain"
	adminrepo "trade-identity/internal/admin/repository"
	"trade-identity/internal/config"
	"trade-identity/internal/db"
	"trade-identity/internal/logging"
	membershipdomain "trade-identity/internal/membership/domain"
	membershiprepo "trade-identity/internal/membership/repository"
	"trade-identity/internal/security"
	"trade-identity/internal/tenancy"
	tenantdomain "trade-identity/internal/tenant/domain"
	tenantrepo "trade-identity/internal/tenant/repository"
	userdomain "trade-identity/internal/user/domain"
	userrepo "trade-identity/internal/user/repository"
)

const (
	devPassword = "password123"

	devTenantID      = "00000000-0000-4000-8000-000000000001"
	devOwnerID       = "00000000-0000-4000-8000-000000000101"
	devBuyerID       = "00000000-0000-4000-8000-000000000102"
	devOwnerMemberID = "00000000-0000-4000-8000-000000000201"
	devBuyerMemberID = "00000000-0000-4000-8000-000000000202"
	devAdminID       = "00000000-0000-4000-8000-000000000301"

	ownerEmail = "owner@acme.test"
	buyerEmail = "buyer@acme.test"
	adminEmail = "ops@platform.test"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL, cfg.DBTimeoutDuration())
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer conn.Close()
	runner := tenancy.NewRunner(conn, cfg.DBTimeoutDuration())

	users := userrepo.NewPostgresRepository()
	admins := adminrepo.NewPostgresRepository()
	tenants := tenantrepo.NewPostgresRepository()
	memberships := membershiprepo.NewPostgresRepository()

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(devPassword))
	if err != nil {
		log.WithError(err).Fatal("hash password")
	}
	now := time.Now().UTC()

	// Seeding acts as the administrator it creates; admin scope may write users and memberships.
	err = runner.WithContext(context.Background(), tenancy.ForAdmin(devAdminID), func(ctx context.Context) error {
		existing, err := users.GetByEmail(ctx, ownerEmail)
		if err != nil {
			return err
		}
		if existing != nil {
			log.WithField("email", ownerEmail).Info("seed already applied; skipping")
			return nil
		}

		if err := tenants.Create(ctx, &tenantdomain.Tenant{
			ID: devTenantID, Name: "Acme Trading", Status: tenantdomain.TenantStatusActive, CreatedAt: now,
		}); err != nil {
			return err
		}
		for _, u := range []*userdomain.User{
			{ID: devOwnerID, Email: ownerEmail, Name: "Acme Owner", PasswordHash: hash, EmailVerifiedAt: &now, CreatedAt: now, UpdatedAt: now},
			{ID: devBuyerID, Email: buyerEmail, Name: "Acme Buyer", PasswordHash: hash, EmailVerifiedAt: &now, CreatedAt: now, UpdatedAt: now},
		} {
			if err := users.Create(ctx, u); err != nil {
				return err
			}
		}
		for _, m := range []*membershipdomain.Membership{
			{ID: devOwnerMemberID, UserID: devOwnerID, TenantID: devTenantID, Role: membershipdomain.RoleOwner, Status: membershipdomain.StatusActive, CreatedAt: now},
			{ID: devBuyerMemberID, UserID: devBuyerID, TenantID: devTenantID, Role: membershipdomain.RoleBuyer, Status: membershipdomain.StatusActive, CreatedAt: now},
		} {
			if err := memberships.Create(ctx, m); err != nil {
				return err
			}
		}
		return admins.Create(ctx, &admindomain.AdminUser{
			ID: devAdminID, Email: adminEmail, Name: "Platform Ops", PasswordHash: hash, Role: "operator", CreatedAt: now,
		})
	})
	if err != nil {
		log.WithError(err).Fatal("seed")
	}

	log.WithFields(logrus.Fields{
		"tenant_id": devTenantID,
		"users":     []string{ownerEmail, buyerEmail},
		"admin":     adminEmail,
	}).Infof("seed complete; every account uses password %q", devPassword)
}
