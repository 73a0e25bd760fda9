package throttle

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Store persists attempts and counts them inside a window.
type Store interface {
	Record(ctx context.Context, attempt *LoginAttempt) error
	// CountSince counts attempts for identity since the cutoff whose origin
	// equals origin or is unknown.
	CountSince(ctx context.Context, identity string, origin []byte, since time.Time) (int64, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Record(ctx context.Context, attempt *LoginAttempt) error {
	return s.db.WithContext(ctx).Create(attempt).Error
}

func (s *gormStore) CountSince(ctx context.Context, identity string, origin []byte, since time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&LoginAttempt{}).
		Where("identity = ? AND created_at >= ?", identity, since)
	if origin == nil {
		q = q.Where("origin_address IS NULL")
	} else {
		q = q.Where("(origin_address = ? OR origin_address IS NULL)", origin)
	}

	var count int64
	err := q.Count(&count).Error
	return count, err
}
