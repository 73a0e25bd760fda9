package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var ErrLockNotConfigured = errors.New("identity lock not configured")

const keyLoginIdentityLock = "login:lock:%s"

// Deletes the lock only while ARGV[1] still owns it.
const releaseIdentityScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// IdentityLock admits one login submission per identity across replicas.
// A lease outlives a crashed holder by at most ttl.
type IdentityLock struct {
	client  *redis.Client
	release *redis.Script
	ttl     time.Duration
}

// Lease is a held identity lock.
type Lease struct {
	lock  *IdentityLock
	key   string
	owner string
}

func NewIdentityLock(client *redis.Client, ttl time.Duration) (*IdentityLock, error) {
	if client == nil {
		return nil, ErrLockNotConfigured
	}
	if ttl <= 0 {
		return nil, errors.New("identity lock ttl must be positive")
	}
	return &IdentityLock{
		client:  client,
		release: redis.NewScript(releaseIdentityScript),
		ttl:     ttl,
	}, nil
}

// Acquire returns nil and no error when another submission holds identity.
func (l *IdentityLock) Acquire(ctx context.Context, identity string) (*Lease, error) {
	if l == nil {
		return nil, ErrLockNotConfigured
	}
	if identity == "" {
		return nil, errors.New("identity lock key is empty")
	}

	lease := &Lease{
		lock:  l,
		key:   fmt.Sprintf(keyLoginIdentityLock, identity),
		owner: uuid.NewString(),
	}
	won, err := l.client.SetNX(ctx, lease.key, lease.owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire identity lock: %w", err)
	}
	if !won {
		return nil, nil
	}
	return lease, nil
}

// Release frees the lease unless it already expired and was taken over.
func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil {
		return nil
	}
	return ls.lock.release.Run(ctx, ls.lock.client, []string{ls.key}, ls.owner).Err()
}
