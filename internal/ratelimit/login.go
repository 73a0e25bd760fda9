package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantauth/internal/config"
)

const keyLoginOrigin = "login:origin:%s"

// LoginLimiter guards login submissions with a per-origin token bucket and a
// per-identity lock. Either guard is inert when not configured.
type LoginLimiter struct {
	bucket *TokenBucket
	lock   *IdentityLock

	originRate  float64
	originBurst int
}

func NewLoginLimiter(cfg config.AuthConfig, client *redis.Client) (*LoginLimiter, error) {
	l := &LoginLimiter{
		originRate:  cfg.OriginRate,
		originBurst: cfg.OriginBurst,
	}

	if cfg.OriginRate > 0 {
		if client == nil {
			return nil, errors.New("origin rate limit requires redis")
		}
		if cfg.OriginBurst <= 0 {
			return nil, errors.New("origin burst must be positive")
		}
		l.bucket = NewTokenBucket(client)
	}
	if cfg.ThrottleSerialize {
		if client == nil {
			return nil, errors.New("throttle serialization requires redis")
		}
		lock, err := NewIdentityLock(client, cfg.ThrottleLockTTL)
		if err != nil {
			return nil, err
		}
		l.lock = lock
	}
	return l, nil
}

// AllowOrigin spends one token from origin's bucket.
func (l *LoginLimiter) AllowOrigin(ctx context.Context, origin string) (bool, error) {
	if l == nil || l.bucket == nil {
		return true, nil
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyLoginOrigin, origin), l.originRate, l.originBurst)
}

// Serializing reports whether identity locks are enabled.
func (l *LoginLimiter) Serializing() bool {
	return l != nil && l.lock != nil
}

// LockIdentity takes the lock for an already canonical identity key. ok is
// false when another submission holds it. The returned release is always
// safe to call.
func (l *LoginLimiter) LockIdentity(ctx context.Context, identity string) (release func(), ok bool, err error) {
	if !l.Serializing() {
		return func() {}, true, nil
	}

	lease, err := l.lock.Acquire(ctx, identity)
	if err != nil || lease == nil {
		return func() {}, false, err
	}

	return func() {
		// Release must run even when the request context is already cancelled.
		_ = lease.Release(context.WithoutCancel(ctx))
	}, true, nil
}
