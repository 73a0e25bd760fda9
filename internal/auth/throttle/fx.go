package throttle

import (
	"github.com/smallbiznis/tenantauth/internal/clock"
	"github.com/smallbiznis/tenantauth/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("auth.throttle",
	fx.Provide(NewStore),
	fx.Provide(NewPolicyHolder),
	fx.Provide(provideThrottle),
)

func provideThrottle(store Store, policy *PolicyHolder, clk clock.Clock, limiter *ratelimit.LoginLimiter, log *zap.Logger) *Throttle {
	var locker IdentityLocker
	if limiter.Serializing() {
		locker = limiter
	}
	return New(store, policy, clk, locker, log)
}
