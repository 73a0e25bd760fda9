package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

//go:generate mockgen -source=repository.go -destination=../mocks/mock_repository.go -package=mocks

type Repository interface {
	// FindLoginCandidate resolves identity against email, username and the
	// digits-only mobile in one lookup. Only active users of active or trial
	// organizations match; the newest user wins.
	FindLoginCandidate(ctx context.Context, identity, mobileDigits string) (*User, *Organization, error)
	FindOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	FindActiveUser(ctx context.Context, userID, orgID snowflake.ID) (*User, error)
}
