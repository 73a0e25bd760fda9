package domain

import "errors"

var (
	ErrInvalidToken       = errors.New("invalid remember token")
	ErrCSRFRejected       = errors.New("csrf token rejected")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrMissingCredentials = errors.New("identity and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTenantIneligible   = errors.New("organization is not eligible to sign in")
	ErrTrialExpired       = errors.New("organization trial has ended")
	ErrPersistence        = errors.New("persistence unavailable")

	ErrUserNotFound         = errors.New("user not found")
	ErrOrganizationNotFound = errors.New("organization not found")
)
