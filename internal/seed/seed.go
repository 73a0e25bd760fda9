// Package seed creates the bootstrap tenant and its administrator.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	authdomain "github.com/smallbiznis/tenantauth/internal/auth/domain"
	"github.com/smallbiznis/tenantauth/internal/auth/password"
	"github.com/smallbiznis/tenantauth/internal/config"
	pkgdb "github.com/smallbiznis/tenantauth/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultOrgName      = "Main"
	defaultAdminDisplay = "Administrator"
	defaultTrialLength  = 14 * 24 * time.Hour

	// Replicas may bootstrap at the same time; the loser of an insert race
	// re-reads what the winner wrote.
	bootstrapAttempts = 2
)

var ErrBootstrapCredentials = errors.New("bootstrap admin email and password are required")

// EnsureBootstrap creates the bootstrap organization and admin user when
// they do not exist yet. Existing rows are left untouched. A unique
// violation from a concurrent bootstrap is retried once.
func EnsureBootstrap(ctx context.Context, db *gorm.DB, node *snowflake.Node, cfg config.BootstrapConfig, log *zap.Logger) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || cfg.AdminPassword == "" {
		return ErrBootstrapCredentials
	}

	name := strings.TrimSpace(cfg.OrgName)
	if name == "" {
		name = defaultOrgName
	}
	orgSlug := slug.Make(cfg.OrgSlug)
	if orgSlug == "" {
		orgSlug = slug.Make(name)
	}

	for attempt := 1; ; attempt++ {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return bootstrapTx(ctx, tx, node, name, orgSlug, email, cfg, log)
		})
		if err == nil || attempt == bootstrapAttempts || !pkgdb.IsDuplicateKeyErr(err) {
			return err
		}
		log.Warn("bootstrap insert raced with another instance, retrying", zap.Error(err))
	}
}

func bootstrapTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, name, orgSlug, email string, cfg config.BootstrapConfig, log *zap.Logger) error {
	org, created, err := ensureOrgTx(ctx, tx, node, name, orgSlug, cfg.OrgPlan)
	if err != nil {
		return err
	}
	if created {
		log.Info("bootstrap organization created", zap.String("org", org.Slug))
	}

	user, created, err := ensureAdminTx(ctx, tx, node, org, email, strings.TrimSpace(cfg.AdminUsername), cfg.AdminPassword)
	if err != nil {
		return err
	}
	if created {
		log.Info("bootstrap admin created", zap.String("org", org.Slug), zap.Int64("user_id", user.ID.Int64()))
	}
	return nil
}

func ensureOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, name, orgSlug, plan string) (authdomain.Organization, bool, error) {
	var org authdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", orgSlug).First(&org).Error
	if err == nil {
		return org, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, false, err
	}

	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan == "" {
		plan = "standard"
	}
	now := time.Now().UTC()
	org = authdomain.Organization{
		ID:        node.Generate(),
		Slug:      orgSlug,
		Name:      name,
		Plan:      plan,
		Status:    authdomain.OrgStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if plan == authdomain.PlanTrial {
		ends := now.Add(defaultTrialLength)
		org.Status = authdomain.OrgStatusTrial
		org.TrialEndsAt = &ends
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, false, err
	}
	return org, true, nil
}

func ensureAdminTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, org authdomain.Organization, email, username, plain string) (authdomain.User, bool, error) {
	var user authdomain.User
	err := tx.WithContext(ctx).
		Where("org_id = ? AND LOWER(email) = ?", org.ID, email).
		First(&user).Error
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, false, err
	}

	hashed, err := password.Hash(plain)
	if err != nil {
		return user, false, err
	}
	now := time.Now().UTC()
	user = authdomain.User{
		ID:           node.Generate(),
		OrgID:        org.ID,
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
		IsActive:     true,
		DisplayName:  defaultAdminDisplay,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return user, false, err
	}
	return user, true, nil
}
