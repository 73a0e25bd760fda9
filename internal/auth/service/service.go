// Package service implements the login use cases: showing the login form,
// submitting credentials and logging out.
package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantauth/internal/auth/cookie"
	"github.com/smallbiznis/tenantauth/internal/auth/csrf"
	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	"github.com/smallbiznis/tenantauth/internal/auth/password"
	"github.com/smallbiznis/tenantauth/internal/auth/remember"
	"github.com/smallbiznis/tenantauth/internal/auth/throttle"
	"github.com/smallbiznis/tenantauth/internal/clock"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/smallbiznis/tenantauth/internal/observability/logger"
	"github.com/smallbiznis/tenantauth/internal/observability/metrics"
	"github.com/smallbiznis/tenantauth/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Flash messages shown to the user. Credential failures share one message
// whether or not the account exists.
const (
	MsgSessionExpired     = "Your session has expired. Please try again."
	MsgMissingCredentials = "Please enter your login and password."
	MsgTooManyAttempts    = "Too many login attempts. Please try again later."
	MsgInvalidCredentials = "Invalid login or password."
	MsgTrialExpired       = "Your organization's trial has ended."
	MsgTenantIneligible   = "Your organization is not active."
	MsgUnavailable        = "Login is temporarily unavailable. Please try again later."
	MsgLoggedOut          = "You have been logged out."
)

// SessionState is the server-side session seen by the login flow.
type SessionState interface {
	csrf.SecretStore
	Principal() (domain.Principal, bool)
	SetPrincipal(p domain.Principal)
	ClearPrincipal()
	SetFlash(msg string)
	PopFlash() string
	RegenerateID() error
	Destroy() error
}

type TokenCodec interface {
	Encode(userID int64, orgSlug string, ttlDays int) (string, error)
	Decode(token string) (remember.Token, error)
}

type CSRFGuard interface {
	csrf.CookieIssuer
	Namespace() string
	Issue(store csrf.SecretStore, namespace string) (string, error)
	Verify(store csrf.SecretStore, jar cookie.Jar, submitted, namespace string) bool
	Rotate(store csrf.SecretStore, namespace string) error
}

type AttemptThrottle interface {
	Attempt(ctx context.Context, identity, origin string) error
}

type OriginLimiter interface {
	AllowOrigin(ctx context.Context, origin string) (bool, error)
}

// Flow carries the per-request collaborators.
type Flow struct {
	Session SessionState
	Cookies cookie.Jar
	Secure  bool
}

// Submission is a posted login form.
type Submission struct {
	Identity  string
	Password  string
	Remember  bool
	CSRFToken string
	Origin    string
}

// Outcome tells the transport what to do. A non-empty Redirect means
// redirect; otherwise render the form with CSRFToken and Flash. Err and
// Result classify the request for logs and traces and are never shown to
// the client.
type Outcome struct {
	Redirect  string
	CSRFToken string
	Flash     string
	Err       error
	Result    string
}

// Results reported by ShowLogin and Logout. SubmitLogin reports the
// metrics outcome labels.
const (
	ResultAuthenticated = "authenticated"
	ResultRemembered    = "remembered"
	ResultForm          = "form"
	ResultLoggedOut     = "logged_out"
)

type Params struct {
	fx.In

	Config   config.AuthConfig
	Log      *zap.Logger
	Repo     domain.Repository
	Codec    TokenCodec
	CSRF     CSRFGuard
	Throttle AttemptThrottle
	Origins  OriginLimiter `optional:"true"`
	Clock    clock.Clock
	Metrics  *metrics.AuthMetrics `optional:"true"`
}

type Service struct {
	cfg      config.AuthConfig
	log      *zap.Logger
	repo     domain.Repository
	codec    TokenCodec
	csrf     CSRFGuard
	throttle AttemptThrottle
	origins  OriginLimiter
	clock    clock.Clock
	metrics  *metrics.AuthMetrics
	tracer   trace.Tracer
}

func New(p Params) *Service {
	return &Service{
		cfg:      p.Config,
		log:      p.Log.Named("auth.service"),
		repo:     p.Repo,
		codec:    p.Codec,
		csrf:     p.CSRF,
		throttle: p.Throttle,
		origins:  p.Origins,
		clock:    p.Clock,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("tenantauth/auth"),
	}
}

// ShowLogin redirects an authenticated or remembered browser to its landing
// page and otherwise prepares the login form.
func (s *Service) ShowLogin(ctx context.Context, flow Flow) Outcome {
	ctx, span := s.tracer.Start(ctx, "auth.ShowLogin")
	defer span.End()

	if p, ok := flow.Session.Principal(); ok && p.OrgSlug != "" {
		span.SetAttributes(attribute.String("auth.result", ResultAuthenticated))
		return Outcome{Redirect: s.landing(p.OrgSlug), Result: ResultAuthenticated}
	}

	if raw, ok := flow.Cookies.Get(s.cfg.RememberCookieName); ok {
		if out, ok := s.autoLogin(ctx, flow, raw); ok {
			span.SetAttributes(attribute.String("auth.result", ResultRemembered))
			return out
		}
		s.clearRemember(flow)
	}

	token, err := s.csrf.Issue(flow.Session, s.csrf.Namespace())
	if err != nil {
		logger.WithContext(ctx, s.log).Error("csrf issue failed", zap.Error(err))
		span.SetStatus(codes.Error, "csrf issue failed")
		return Outcome{Flash: MsgUnavailable, Err: err, Result: metrics.OutcomeUnavailable}
	}
	s.csrf.IssueCookies(flow.Cookies, token, s.csrf.Namespace(), flow.Secure)

	span.SetAttributes(attribute.String("auth.result", ResultForm))
	return Outcome{CSRFToken: token, Flash: flow.Session.PopFlash(), Result: ResultForm}
}

func (s *Service) autoLogin(ctx context.Context, flow Flow, raw string) (Outcome, bool) {
	log := logger.WithContext(ctx, s.log)

	token, err := s.codec.Decode(raw)
	if err != nil {
		s.metrics.IncAutoLogin(metrics.AutoLoginInvalid)
		return Outcome{}, false
	}

	org, err := s.repo.FindOrganizationBySlug(ctx, token.OrgSlug)
	if err != nil {
		if !errors.Is(err, domain.ErrOrganizationNotFound) {
			log.Warn("auto-login organization lookup failed", zap.Error(err))
		}
		s.metrics.IncAutoLogin(metrics.AutoLoginIneligible)
		return Outcome{}, false
	}
	if !org.Eligible(s.clock.Now()) {
		s.metrics.IncAutoLogin(metrics.AutoLoginIneligible)
		return Outcome{}, false
	}

	user, err := s.repo.FindActiveUser(ctx, snowflake.ID(token.UserID), org.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			log.Warn("auto-login user lookup failed", zap.Error(err))
		}
		s.metrics.IncAutoLogin(metrics.AutoLoginIneligible)
		return Outcome{}, false
	}

	if err := s.establish(ctx, flow, *user, *org, true); err != nil {
		flow.Session.ClearPrincipal()
		s.metrics.IncAutoLogin(metrics.AutoLoginFailed)
		log.Error("auto-login session setup failed", zap.Error(err))
		return Outcome{}, false
	}

	s.metrics.IncAutoLogin(metrics.AutoLoginSuccess)
	log.Info("auto-login succeeded", zap.Int64("user_id", user.ID.Int64()), zap.String("org", org.Slug))
	return Outcome{Redirect: s.landing(org.Slug), Result: ResultRemembered}, true
}

// SubmitLogin checks CSRF, throttling and credentials in that order. Every
// result is a redirect; failures carry a flash message in the session.
func (s *Service) SubmitLogin(ctx context.Context, flow Flow, sub Submission) Outcome {
	ctx, span := s.tracer.Start(ctx, "auth.SubmitLogin")
	defer span.End()

	start := time.Now()
	out, outcome := s.submit(ctx, flow, sub)
	out.Result = outcome
	s.metrics.ObserveLoginDuration(time.Since(start))
	s.metrics.IncLoginOutcome(outcome)

	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if out.Err != nil && outcome == metrics.OutcomeUnavailable {
		span.RecordError(tracing.SafeError(out.Err))
		span.SetStatus(codes.Error, outcome)
	}
	return out
}

func (s *Service) submit(ctx context.Context, flow Flow, sub Submission) (Outcome, string) {
	log := logger.WithContext(ctx, s.log)

	if !s.csrf.Verify(flow.Session, flow.Cookies, sub.CSRFToken, s.csrf.Namespace()) {
		return s.reject(flow, MsgSessionExpired, domain.ErrCSRFRejected), metrics.OutcomeCSRFMismatch
	}

	identity := strings.TrimSpace(sub.Identity)
	if identity == "" || sub.Password == "" {
		return s.reject(flow, MsgMissingCredentials, domain.ErrMissingCredentials), metrics.OutcomeInvalidCredentials
	}

	if s.origins != nil {
		allowed, err := s.origins.AllowOrigin(ctx, sub.Origin)
		if err != nil {
			log.Error("origin limiter failed", zap.Error(err))
			return s.reject(flow, MsgUnavailable, errors.Join(domain.ErrPersistence, err)), metrics.OutcomeUnavailable
		}
		if !allowed {
			return s.reject(flow, MsgTooManyAttempts, domain.ErrRateLimited), metrics.OutcomeThrottled
		}
	}

	if err := s.throttle.Attempt(ctx, identity, sub.Origin); err != nil {
		if errors.Is(err, throttle.ErrLockContended) {
			s.metrics.IncLockContention()
		}
		if errors.Is(err, domain.ErrRateLimited) {
			return s.reject(flow, MsgTooManyAttempts, err), metrics.OutcomeThrottled
		}
		s.metrics.IncThrottleError(err)
		log.Error("login throttle unavailable", zap.Error(err))
		return s.reject(flow, MsgUnavailable, err), metrics.OutcomeUnavailable
	}

	user, org, err := s.repo.FindLoginCandidate(ctx, identity, domain.DigitsOnly(identity))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			password.VerifyDummy(sub.Password)
			return s.reject(flow, MsgInvalidCredentials, domain.ErrInvalidCredentials), metrics.OutcomeInvalidCredentials
		}
		log.Error("credential lookup failed", zap.Error(err))
		return s.reject(flow, MsgUnavailable, errors.Join(domain.ErrPersistence, err)), metrics.OutcomeUnavailable
	}

	now := s.clock.Now()
	if !org.StatusAllowed() {
		return s.reject(flow, MsgTenantIneligible, domain.ErrTenantIneligible), metrics.OutcomeTenantIneligible
	}
	if org.TrialExpired(now) {
		return s.reject(flow, MsgTrialExpired, domain.ErrTrialExpired), metrics.OutcomeTrialExpired
	}

	if !password.Verify(sub.Password, user.PasswordHash) {
		return s.reject(flow, MsgInvalidCredentials, domain.ErrInvalidCredentials), metrics.OutcomeInvalidCredentials
	}

	if err := s.establish(ctx, flow, *user, *org, sub.Remember); err != nil {
		log.Error("login session setup failed", zap.Error(err))
		return s.reject(flow, MsgUnavailable, err), metrics.OutcomeUnavailable
	}

	log.Info("login succeeded", zap.Int64("user_id", user.ID.Int64()), zap.String("org", org.Slug))
	return Outcome{Redirect: s.landing(org.Slug)}, metrics.OutcomeSuccess
}

// Logout ends the session, forgets the remember cookie and rotates CSRF.
// A request without a valid CSRF token leaves the session untouched and is
// sent back where it came from.
func (s *Service) Logout(ctx context.Context, flow Flow, csrfToken string) Outcome {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	log := logger.WithContext(ctx, s.log)
	p, authenticated := flow.Session.Principal()

	if !s.csrf.Verify(flow.Session, flow.Cookies, csrfToken, s.csrf.Namespace()) {
		log.Warn("logout rejected: csrf mismatch")
		span.SetAttributes(attribute.String("auth.outcome", metrics.OutcomeCSRFMismatch))
		if authenticated && p.OrgSlug != "" {
			return Outcome{Redirect: s.landing(p.OrgSlug), Err: domain.ErrCSRFRejected, Result: metrics.OutcomeCSRFMismatch}
		}
		return Outcome{Redirect: s.loginPath(), Err: domain.ErrCSRFRejected, Result: metrics.OutcomeCSRFMismatch}
	}

	if authenticated {
		log.Info("logout", zap.Int64("user_id", p.UserID), zap.String("org", p.OrgSlug))
	}

	if err := flow.Session.Destroy(); err != nil {
		log.Error("session destroy failed", zap.Error(err))
		span.SetStatus(codes.Error, "session destroy failed")
		return Outcome{Redirect: s.loginPath(), Err: err, Result: metrics.OutcomeUnavailable}
	}
	s.clearRemember(flow)
	if err := s.csrf.Rotate(flow.Session, s.csrf.Namespace()); err != nil {
		log.Error("csrf rotate failed", zap.Error(err))
	}
	flow.Session.SetFlash(MsgLoggedOut)

	s.metrics.IncLogout()
	return Outcome{Redirect: s.loginPath(), Result: ResultLoggedOut}
}

// establish promotes the session to authenticated.
func (s *Service) establish(ctx context.Context, flow Flow, user domain.User, org domain.Organization, rememberMe bool) error {
	if err := flow.Session.RegenerateID(); err != nil {
		return err
	}
	flow.Session.SetPrincipal(domain.NewPrincipal(user, org))

	if rememberMe {
		token, err := s.codec.Encode(user.ID.Int64(), org.Slug, s.cfg.RememberTTLDays)
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("remember token not issued", zap.Error(err))
		} else {
			s.setRemember(flow, token)
		}
	}

	return s.csrf.Rotate(flow.Session, s.csrf.Namespace())
}

func (s *Service) reject(flow Flow, msg string, err error) Outcome {
	flow.Session.SetFlash(msg)
	return Outcome{Redirect: s.loginPath(), Flash: msg, Err: err}
}

func (s *Service) setRemember(flow Flow, token string) {
	ttl := time.Duration(s.cfg.RememberTTLDays) * 24 * time.Hour
	flow.Cookies.Set(&http.Cookie{
		Name:     s.cfg.RememberCookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		Expires:  s.clock.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		Secure:   flow.Secure || s.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) clearRemember(flow Flow) {
	flow.Cookies.Set(cookie.Expired(s.cfg.RememberCookieName, "/", s.cfg.CookieDomain, flow.Secure || s.cfg.CookieSecure, true))
}

func (s *Service) landing(orgSlug string) string {
	path := s.cfg.LandingPath
	if path == "" {
		path = "/t/{org}/dashboard"
	}
	return strings.ReplaceAll(path, "{org}", url.PathEscape(orgSlug))
}

func (s *Service) loginPath() string {
	if s.cfg.LoginPath == "" {
		return "/login"
	}
	return s.cfg.LoginPath
}
