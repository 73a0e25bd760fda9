package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

type candidateRow struct {
	UserID           snowflake.ID `gorm:"column:user_id"`
	OrgID            snowflake.ID `gorm:"column:org_id"`
	Email            string       `gorm:"column:email"`
	Username         string       `gorm:"column:username"`
	Mobile           string       `gorm:"column:mobile"`
	MobileNormalized string       `gorm:"column:mobile_normalized"`
	PasswordHash     string       `gorm:"column:password_hash"`
	IsActive         bool         `gorm:"column:is_active"`
	DisplayName      string       `gorm:"column:display_name"`
	UserCreatedAt    time.Time    `gorm:"column:user_created_at"`
	OrgSlug          string       `gorm:"column:org_slug"`
	OrgName          string       `gorm:"column:org_name"`
	OrgPlan          string       `gorm:"column:org_plan"`
	OrgStatus        string       `gorm:"column:org_status"`
	OrgTrialEndsAt   *time.Time   `gorm:"column:org_trial_ends_at"`
	OrgCreatedAt     time.Time    `gorm:"column:org_created_at"`
}

const candidateQuery = `
SELECT u.id AS user_id, u.org_id, u.email, u.username, u.mobile, u.mobile_normalized,
       u.password_hash, u.is_active, u.display_name, u.created_at AS user_created_at,
       o.slug AS org_slug, o.name AS org_name, o.plan AS org_plan, o.status AS org_status,
       o.trial_ends_at AS org_trial_ends_at, o.created_at AS org_created_at
FROM users u
JOIN organizations o ON o.id = u.org_id
WHERE u.is_active = ?
  AND LOWER(o.status) IN ?
  AND (LOWER(u.email) = ? OR u.username = ? OR (? <> '' AND u.mobile_normalized = ?))
ORDER BY u.created_at DESC, u.id DESC
LIMIT 1`

func (r *repo) FindLoginCandidate(ctx context.Context, identity, mobileDigits string) (*domain.User, *domain.Organization, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, nil, domain.ErrUserNotFound
	}

	var rows []candidateRow
	err := r.db.WithContext(ctx).Raw(candidateQuery,
		true,
		[]string{domain.OrgStatusActive, domain.OrgStatusTrial},
		strings.ToLower(identity),
		identity,
		mobileDigits,
		mobileDigits,
	).Scan(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, domain.ErrUserNotFound
	}

	row := rows[0]
	user := &domain.User{
		ID:               row.UserID,
		OrgID:            row.OrgID,
		Email:            row.Email,
		Username:         row.Username,
		Mobile:           row.Mobile,
		MobileNormalized: row.MobileNormalized,
		PasswordHash:     row.PasswordHash,
		IsActive:         row.IsActive,
		DisplayName:      row.DisplayName,
		CreatedAt:        row.UserCreatedAt,
	}
	org := &domain.Organization{
		ID:          row.OrgID,
		Slug:        row.OrgSlug,
		Name:        row.OrgName,
		Plan:        row.OrgPlan,
		Status:      row.OrgStatus,
		TrialEndsAt: row.OrgTrialEndsAt,
		CreatedAt:   row.OrgCreatedAt,
	}
	return user, org, nil
}

func (r *repo) FindOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where("slug = ?", strings.TrimSpace(slug)).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repo) FindActiveUser(ctx context.Context, userID, orgID snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND org_id = ? AND is_active = ?", userID, orgID, true).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
