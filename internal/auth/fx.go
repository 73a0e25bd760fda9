package auth

import (
	"github.com/smallbiznis/tenantauth/internal/auth/csrf"
	"github.com/smallbiznis/tenantauth/internal/auth/remember"
	"github.com/smallbiznis/tenantauth/internal/auth/repository"
	"github.com/smallbiznis/tenantauth/internal/auth/service"
	"github.com/smallbiznis/tenantauth/internal/auth/session"
	"github.com/smallbiznis/tenantauth/internal/auth/throttle"
	"github.com/smallbiznis/tenantauth/internal/clock"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/smallbiznis/tenantauth/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("auth.service",
	session.Module,
	throttle.Module,
	fx.Provide(repository.New),
	fx.Provide(provideCodec),
	fx.Provide(provideGuard),
	fx.Provide(func(t *throttle.Throttle) service.AttemptThrottle { return t }),
	fx.Provide(func(l *ratelimit.LoginLimiter) service.OriginLimiter { return l }),
	fx.Provide(service.New),
)

func provideCodec(cfg config.Config, clk clock.Clock, log *zap.Logger) (service.TokenCodec, error) {
	key, err := remember.ResolveKey(remember.KeySource{
		AppKey:  cfg.Auth.AppKey,
		AppName: cfg.AppName,
		DBName:  cfg.DBName,
	}, log)
	if err != nil {
		return nil, err
	}
	return remember.NewCodec(key, clk), nil
}

func provideGuard(cfg config.AuthConfig, clk clock.Clock) service.CSRFGuard {
	return csrf.NewGuard(cfg, clk)
}
