// Package throttle limits login attempts per identity and origin over a
// sliding window backed by the attempt log.
package throttle

import (
	"context"
	"fmt"

	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	"github.com/smallbiznis/tenantauth/internal/clock"
	"go.uber.org/zap"
)

// ErrLockContended reports that a concurrent submission for the same identity
// holds the serialization lock.
var ErrLockContended = fmt.Errorf("identity lock held: %w", domain.ErrRateLimited)

// IdentityLocker serializes record-then-count per identity. It receives the
// IdentityKey form.
type IdentityLocker interface {
	LockIdentity(ctx context.Context, identity string) (release func(), ok bool, err error)
}

type Throttle struct {
	store  Store
	policy *PolicyHolder
	clock  clock.Clock
	locker IdentityLocker
	log    *zap.Logger
}

func New(store Store, policy *PolicyHolder, clk clock.Clock, locker IdentityLocker, log *zap.Logger) *Throttle {
	return &Throttle{
		store:  store,
		policy: policy,
		clock:  clk,
		locker: locker,
		log:    log.Named("auth.throttle"),
	}
}

// Record appends an attempt for identity from origin.
func (t *Throttle) Record(ctx context.Context, identity, origin string) error {
	attempt := &LoginAttempt{
		Identity:      IdentityKey(identity),
		OriginAddress: EncodeOrigin(origin),
		CreatedAt:     t.clock.Now(),
	}
	if err := t.store.Record(ctx, attempt); err != nil {
		return fmt.Errorf("%w: record attempt: %w", domain.ErrPersistence, err)
	}
	return nil
}

// IsBlocked reports whether identity from origin has already used every
// attempt in the current window.
func (t *Throttle) IsBlocked(ctx context.Context, identity, origin string) (bool, error) {
	policy := t.policy.Current()
	count, err := t.count(ctx, identity, origin, policy)
	if err != nil {
		return true, err
	}
	return count >= int64(policy.MaxAttempts), nil
}

// Attempt records the current submission and then decides whether it may
// proceed. With MaxAttempts n, submissions 1..n pass and n+1 is rejected
// with domain.ErrRateLimited. Store failures fail closed with
// domain.ErrPersistence.
func (t *Throttle) Attempt(ctx context.Context, identity, origin string) error {
	if t.locker != nil {
		release, ok, err := t.locker.LockIdentity(ctx, IdentityKey(identity))
		if err != nil {
			return fmt.Errorf("%w: identity lock: %w", domain.ErrPersistence, err)
		}
		if !ok {
			return ErrLockContended
		}
		defer release()
	}

	if err := t.Record(ctx, identity, origin); err != nil {
		return err
	}

	policy := t.policy.Current()
	count, err := t.count(ctx, identity, origin, policy)
	if err != nil {
		return err
	}
	if count > int64(policy.MaxAttempts) {
		t.log.Info("login throttled",
			zap.Int64("attempts", count),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("window", policy.Window),
		)
		return domain.ErrRateLimited
	}
	return nil
}

func (t *Throttle) count(ctx context.Context, identity, origin string, policy Policy) (int64, error) {
	since := t.clock.Now().Add(-policy.Window)
	count, err := t.store.CountSince(ctx, IdentityKey(identity), EncodeOrigin(origin), since)
	if err != nil {
		return 0, fmt.Errorf("%w: count attempts: %w", domain.ErrPersistence, err)
	}
	return count, nil
}
