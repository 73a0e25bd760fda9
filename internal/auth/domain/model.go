// Package domain contains the tenant and credential types consumed by login.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization statuses that may authenticate.
const (
	OrgStatusActive    = "active"
	OrgStatusTrial     = "trial"
	OrgStatusSuspended = "suspended"
)

const PlanTrial = "trial"

// Organization is a tenant looked up by slug. Read-only for the login flow.
type Organization struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Slug        string       `gorm:"type:varchar(120);not null;uniqueIndex"`
	Name        string       `gorm:"type:varchar(255);not null"`
	Plan        string       `gorm:"type:varchar(40);not null;default:'standard'"`
	Status      string       `gorm:"type:varchar(40);not null;default:'active'"`
	TrialEndsAt *time.Time   `gorm:"column:trial_ends_at"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Organization) TableName() string { return "organizations" }

// StatusAllowed reports whether the organization status may authenticate.
func (o Organization) StatusAllowed() bool {
	switch strings.ToLower(strings.TrimSpace(o.Status)) {
	case OrgStatusActive, OrgStatusTrial:
		return true
	default:
		return false
	}
}

// TrialExpired reports whether a trial plan has run out at now. A trial plan
// without an end date is treated as expired.
func (o Organization) TrialExpired(now time.Time) bool {
	if !strings.EqualFold(strings.TrimSpace(o.Plan), PlanTrial) {
		return false
	}
	if o.TrialEndsAt == nil {
		return true
	}
	return !o.TrialEndsAt.After(now)
}

// Eligible reports whether the organization may authenticate at now.
func (o Organization) Eligible(now time.Time) bool {
	return o.StatusAllowed() && !o.TrialExpired(now)
}

// User is a tenant user account.
type User struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	OrgID            snowflake.ID `gorm:"column:org_id;not null;index"`
	Email            string       `gorm:"type:varchar(255);index"`
	Username         string       `gorm:"type:varchar(120);index"`
	Mobile           string       `gorm:"type:varchar(40)"`
	MobileNormalized string       `gorm:"column:mobile_normalized;type:varchar(40);index"`
	PasswordHash     string       `gorm:"column:password_hash;type:text;not null"`
	IsActive         bool         `gorm:"column:is_active;not null;default:true"`
	DisplayName      string       `gorm:"type:varchar(255)"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// Principal is the authenticated identity kept in the session. It carries no
// credential hash and no plan, status or trial fields.
type Principal struct {
	UserID      int64  `json:"user_id"`
	OrgID       int64  `json:"org_id"`
	OrgSlug     string `json:"org_slug"`
	OrgName     string `json:"org_name"`
	Email       string `json:"email,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// NewPrincipal builds the session payload for a user of org.
func NewPrincipal(user User, org Organization) Principal {
	return Principal{
		UserID:      user.ID.Int64(),
		OrgID:       org.ID.Int64(),
		OrgSlug:     org.Slug,
		OrgName:     org.Name,
		Email:       user.Email,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	}
}

// DigitsOnly strips everything but ASCII digits, the form stored in mobile_normalized.
func DigitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
