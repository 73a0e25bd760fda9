package throttle

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Policy bounds attempts per identity and origin inside a sliding window.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

func (p Policy) validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("throttle.maxAttempts must be positive")
	}
	if p.Window <= 0 {
		return errors.New("throttle.windowMinutes must be positive")
	}
	return nil
}

// PolicyHolder serves the current policy. Values come from the environment
// and may be overridden by a YAML file that is reloaded on change.
type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// StaticPolicy returns a holder that never reloads.
func StaticPolicy(p Policy) *PolicyHolder {
	h := &PolicyHolder{}
	h.current.Store(p)
	return h
}

func NewPolicyHolder(cfg config.AuthConfig, log *zap.Logger) (*PolicyHolder, error) {
	defaults := Policy{MaxAttempts: cfg.MaxAttempts, Window: cfg.Window()}
	if err := defaults.validate(); err != nil {
		return nil, err
	}

	path := strings.TrimSpace(cfg.ThrottlePolicyFile)
	if path == "" {
		return StaticPolicy(defaults), nil
	}

	log = log.Named("auth.throttle.policy")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("throttle.maxAttempts", cfg.MaxAttempts)
	v.SetDefault("throttle.windowMinutes", cfg.WindowMinutes)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read throttle policy %s: %w", path, err)
	}

	initial, err := readPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := StaticPolicy(initial)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readPolicy(v)
		if err != nil {
			log.Warn("invalid throttle policy ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("throttle policy reloaded",
			zap.String("file", e.Name),
			zap.Int("max_attempts", updated.MaxAttempts),
			zap.Duration("window", updated.Window),
		)
	})
	v.WatchConfig()

	log.Info("throttle policy loaded",
		zap.String("file", path),
		zap.Int("max_attempts", initial.MaxAttempts),
		zap.Duration("window", initial.Window),
	)
	return holder, nil
}

func (h *PolicyHolder) Current() Policy {
	return h.current.Load().(Policy)
}

// readPolicy reads keys individually so a partial file still falls back to
// the environment defaults for the keys it omits.
func readPolicy(v *viper.Viper) (Policy, error) {
	p := Policy{
		MaxAttempts: v.GetInt("throttle.maxAttempts"),
		Window:      time.Duration(v.GetInt("throttle.windowMinutes")) * time.Minute,
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
