package throttle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	"github.com/smallbiznis/tenantauth/internal/clock"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/smallbiznis/tenantauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestThrottle(t *testing.T, policy Policy, locker IdentityLocker) (*Throttle, *clock.FakeClock, Store) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&LoginAttempt{}))

	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	store := NewStore(conn)
	return New(store, StaticPolicy(policy), clk, locker, zaptest.NewLogger(t)), clk, store
}

func TestAttemptBoundaryAndWindowExpiry(t *testing.T) {
	th, clk, _ := newTestThrottle(t, Policy{MaxAttempts: 6, Window: 10 * time.Minute}, nil)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		require.NoError(t, th.Attempt(ctx, "a@b.com", "203.0.113.9"), "attempt %d", i)
		clk.Advance(time.Second)
	}

	blocked, err := th.IsBlocked(ctx, "a@b.com", "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, blocked)

	err = th.Attempt(ctx, "a@b.com", "203.0.113.9")
	assert.ErrorIs(t, err, domain.ErrRateLimited, "7th attempt is blocked")

	// Other identities and origins are independent.
	require.NoError(t, th.Attempt(ctx, "other@b.com", "203.0.113.9"))
	require.NoError(t, th.Attempt(ctx, "a@b.com", "198.51.100.1"))

	clk.Advance(10 * time.Minute)
	blocked, err = th.IsBlocked(ctx, "a@b.com", "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, blocked, "window elapsed without reset")
	assert.NoError(t, th.Attempt(ctx, "a@b.com", "203.0.113.9"))
}

func TestAttemptsWithUnknownOriginCountForEveryOrigin(t *testing.T) {
	th, _, _ := newTestThrottle(t, Policy{MaxAttempts: 3, Window: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, th.Record(ctx, "ada", ""))
	}

	blocked, err := th.IsBlocked(ctx, "ada", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, blocked, "null-origin rows count against a known origin")

	blocked, err = th.IsBlocked(ctx, "ada", "")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestKnownOriginRowsDoNotCountForUnknownOrigin(t *testing.T) {
	th, _, _ := newTestThrottle(t, Policy{MaxAttempts: 2, Window: time.Minute}, nil)
	ctx := context.Background()

	require.NoError(t, th.Record(ctx, "ada", "10.0.0.1"))
	require.NoError(t, th.Record(ctx, "ada", "10.0.0.1"))

	blocked, err := th.IsBlocked(ctx, "ada", "not-an-ip")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestIdentityVariantsShareOneCounter(t *testing.T) {
	th, _, store := newTestThrottle(t, Policy{MaxAttempts: 2, Window: time.Minute}, nil)
	ctx := context.Background()

	require.NoError(t, th.Attempt(ctx, "Ada@Example.com", "10.0.0.1"))
	require.NoError(t, th.Attempt(ctx, " ada@example.com", "10.0.0.1"))

	err := th.Attempt(ctx, "ADA@EXAMPLE.COM", "10.0.0.1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	blocked, err := th.IsBlocked(ctx, "ada@example.com", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, blocked)

	n, err := store.CountSince(ctx, "ada@example.com", EncodeOrigin("10.0.0.1"), time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n, "every variant is stored under one key")
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "ada@example.com", IdentityKey("  Ada@Example.COM "))
	assert.Equal(t, "+1 555 0100", IdentityKey("+1 555 0100"))
}

type brokenStore struct{}

var errDown = errors.New("db down")

func (brokenStore) Record(context.Context, *LoginAttempt) error { return errDown }
func (brokenStore) CountSince(context.Context, string, []byte, time.Time) (int64, error) {
	return 0, errDown
}

func TestStoreFailureFailsClosed(t *testing.T) {
	th := New(brokenStore{}, StaticPolicy(Policy{MaxAttempts: 6, Window: time.Minute}), clock.SystemClock{}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	err := th.Attempt(ctx, "ada", "10.0.0.1")
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, errDown)

	blocked, err := th.IsBlocked(ctx, "ada", "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, blocked)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (l *fakeLocker) LockIdentity(_ context.Context, identity string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return func() {}, false, l.err
	}
	if l.held[identity] {
		return func() {}, false, nil
	}
	l.held[identity] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, identity)
		l.released++
	}, true, nil
}

func TestAttemptSerializesPerIdentity(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	th, _, _ := newTestThrottle(t, Policy{MaxAttempts: 6, Window: time.Minute}, locker)
	ctx := context.Background()

	require.NoError(t, th.Attempt(ctx, "ada", "10.0.0.1"))
	assert.Equal(t, 1, locker.released)

	locker.held["ada"] = true
	err := th.Attempt(ctx, "Ada", "10.0.0.1")
	assert.ErrorIs(t, err, ErrLockContended)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	locker.err = errors.New("redis down")
	err = th.Attempt(ctx, "bob", "10.0.0.1")
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestEncodeOrigin(t *testing.T) {
	assert.Nil(t, EncodeOrigin(""))
	assert.Nil(t, EncodeOrigin("garbage"))

	v4 := EncodeOrigin("192.0.2.1")
	require.Len(t, v4, 16)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 192, 0, 2, 1}, v4)

	assert.Len(t, EncodeOrigin("2001:db8::1"), 16)
	assert.Equal(t, EncodeOrigin("::ffff:192.0.2.1"), v4)
}

func TestPolicyHolderDefaultsAndFile(t *testing.T) {
	// File watchers outlive the test, so they must not log through t.
	log := zap.NewNop()

	holder, err := NewPolicyHolder(config.AuthConfig{MaxAttempts: 6, WindowMinutes: 10}, log)
	require.NoError(t, err)
	assert.Equal(t, Policy{MaxAttempts: 6, Window: 10 * time.Minute}, holder.Current())

	_, err = NewPolicyHolder(config.AuthConfig{MaxAttempts: 0, WindowMinutes: 10}, log)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "throttle.yml")
	require.NoError(t, os.WriteFile(path, []byte("throttle:\n  maxAttempts: 3\n"), 0o600))

	holder, err = NewPolicyHolder(config.AuthConfig{MaxAttempts: 6, WindowMinutes: 10, ThrottlePolicyFile: path}, log)
	require.NoError(t, err)
	assert.Equal(t, Policy{MaxAttempts: 3, Window: 10 * time.Minute}, holder.Current(), "window falls back to env default")

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("throttle:\n  maxAttempts: -1\n"), 0o600))
	_, err = NewPolicyHolder(config.AuthConfig{MaxAttempts: 6, WindowMinutes: 10, ThrottlePolicyFile: bad}, log)
	assert.Error(t, err)

	_, err = NewPolicyHolder(config.AuthConfig{MaxAttempts: 6, WindowMinutes: 10, ThrottlePolicyFile: filepath.Join(t.TempDir(), "missing.yml")}, log)
	assert.Error(t, err)
}

// writeAtomic replaces path in one rename so the watcher never reads a
// half-written file.
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestPolicyHolderReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "throttle.yml")
	writeAtomic(t, path, "throttle:\n  maxAttempts: 3\n  windowMinutes: 5\n")

	holder, err := NewPolicyHolder(config.AuthConfig{MaxAttempts: 6, WindowMinutes: 10, ThrottlePolicyFile: path}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 3, holder.Current().MaxAttempts)

	writeAtomic(t, path, "throttle:\n  maxAttempts: 9\n  windowMinutes: 5\n")
	assert.Eventually(t, func() bool {
		return holder.Current().MaxAttempts == 9
	}, 5*time.Second, 20*time.Millisecond)

	writeAtomic(t, path, "throttle:\n  maxAttempts: 0\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 9, holder.Current().MaxAttempts, "invalid reload is ignored")
}
