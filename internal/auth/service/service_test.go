package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/smallbiznis/tenantauth/internal/auth/cookie"
	"github.com/smallbiznis/tenantauth/internal/auth/csrf"
	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	"github.com/smallbiznis/tenantauth/internal/auth/mocks"
	"github.com/smallbiznis/tenantauth/internal/auth/password"
	"github.com/smallbiznis/tenantauth/internal/auth/remember"
	"github.com/smallbiznis/tenantauth/internal/auth/session"
	"github.com/smallbiznis/tenantauth/internal/auth/throttle"
	"github.com/smallbiznis/tenantauth/internal/clock"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/smallbiznis/tenantauth/internal/observability/metrics"
	"github.com/smallbiznis/tenantauth/pkg/db"
)

const (
	testPassword = "correct horse battery"
	testEmail    = "alice@example.com"
	testOrigin   = "203.0.113.7"
	landing      = "/t/acme/dashboard"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type harness struct {
	svc      *Service
	repo     *mocks.MockRepository
	clock    *clock.FakeClock
	codec    *remember.Codec
	guard    *csrf.Guard
	registry *prometheus.Registry
	db       *gorm.DB
	user     domain.User
	org      domain.Organization
}

type option func(*Params)

func withThrottle(t AttemptThrottle) option { return func(p *Params) { p.Throttle = t } }
func withOrigins(o OriginLimiter) option { return func(p *Params) { p.Origins = o } }
func withBrokenRotate() option { return func(p *Params) { p.CSRF = brokenRotate{p.CSRF} } }

var errRotate = errors.New("entropy unavailable")

// brokenRotate fails secret rotation after a session has been promoted.
type brokenRotate struct{ CSRFGuard }

func (brokenRotate) Rotate(csrf.SecretStore, string) error { return errRotate }

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		RememberCookieName:   "tn_remember",
		RememberTTLDays:      30,
		CSRFNamespace:        "login",
		CSRFCookieTTL:        time.Hour,
		CSRFCookieCandidates: []string{"XSRF-TOKEN-{ns}", "XSRF-TOKEN"},
		LoginPath:            "/login",
		LandingPath:          "/t/{org}/dashboard",
	}
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&throttle.LoginAttempt{}))

	policy := throttle.StaticPolicy(throttle.Policy{MaxAttempts: 6, Window: 15 * time.Minute})
	registry := prometheus.NewRegistry()

	hash, err := password.Hash(testPassword)
	require.NoError(t, err)

	h := &harness{
		repo:     repo,
		clock:    clk,
		codec:    remember.NewCodec(testKey, clk),
		guard:    csrf.NewGuard(testConfig(), clk),
		registry: registry,
		db:       conn,
		org: domain.Organization{
			ID:     snowflake.ID(100),
			Slug:   "acme",
			Name:   "Acme",
			Plan:   "standard",
			Status: domain.OrgStatusActive,
		},
		user: domain.User{
			ID:           snowflake.ID(42),
			OrgID:        snowflake.ID(100),
			Email:        testEmail,
			Username:     "alice",
			PasswordHash: hash,
			IsActive:     true,
			DisplayName:  "Alice",
		},
	}

	p := Params{
		Config:   testConfig(),
		Log:      log,
		Repo:     repo,
		Codec:    h.codec,
		CSRF:     h.guard,
		Throttle: throttle.New(throttle.NewStore(conn), policy, clk, nil, log),
		Clock:    clk,
		Metrics:  metrics.NewAuthMetrics(registry),
	}
	for _, opt := range opts {
		opt(&p)
	}
	h.svc = New(p)
	return h
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New()
	require.NoError(t, err)
	return s
}

// loginForm prepares a session holding a CSRF secret and returns the token.
func (h *harness) loginForm(t *testing.T, sess *session.Session) string {
	t.Helper()
	token, err := h.guard.Issue(sess, "login")
	require.NoError(t, err)
	return token
}

func (h *harness) attempts(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&throttle.LoginAttempt{}).Count(&n).Error)
	return n
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" || hasLabel(m, label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestShowLoginPreparesForm(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	sess.SetFlash("previous message")
	jar := cookie.NewRecorder(nil)

	out := h.svc.ShowLogin(context.Background(), Flow{Session: sess, Cookies: jar})

	assert.Empty(t, out.Redirect)
	require.NotEmpty(t, out.CSRFToken)
	assert.Equal(t, out.CSRFToken, sess.CSRFSecret("login"))
	assert.Equal(t, "previous message", out.Flash)
	assert.Empty(t, sess.PopFlash())

	for _, name := range []string{"XSRF-TOKEN-login", "XSRF-TOKEN"} {
		c := jar.Last(name)
		require.NotNil(t, c, name)
		assert.Equal(t, out.CSRFToken, c.Value)
		assert.False(t, c.HttpOnly)
	}
}

func TestShowLoginRedirectsAuthenticatedSession(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	sess.SetPrincipal(domain.NewPrincipal(h.user, h.org))

	out := h.svc.ShowLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)})

	assert.Equal(t, landing, out.Redirect)
}

func TestShowLoginAutoLoginFromRememberCookie(t *testing.T) {
	h := newHarness(t)
	token, err := h.codec.Encode(h.user.ID.Int64(), "acme", 30)
	require.NoError(t, err)

	h.repo.EXPECT().FindOrganizationBySlug(gomock.Any(), "acme").Return(&h.org, nil)
	h.repo.EXPECT().FindActiveUser(gomock.Any(), h.user.ID, h.org.ID).Return(&h.user, nil)

	sess := newSession(t)
	before := sess.ID()
	jar := cookie.NewRecorder(map[string]string{"tn_remember": token})

	out := h.svc.ShowLogin(context.Background(), Flow{Session: sess, Cookies: jar})

	assert.Equal(t, landing, out.Redirect)
	assert.NotEqual(t, before, sess.ID())
	p, ok := sess.Principal()
	require.True(t, ok)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, "acme", p.OrgSlug)

	reissued := jar.Last("tn_remember")
	require.NotNil(t, reissued)
	assert.True(t, reissued.HttpOnly)
	assert.Equal(t, 30*24*60*60, reissued.MaxAge)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "tenantauth_auto_login_total", "result", metrics.AutoLoginSuccess))
}

func TestShowLoginRollsBackFailedAutoLogin(t *testing.T) {
	h := newHarness(t, withBrokenRotate())
	token, err := h.codec.Encode(h.user.ID.Int64(), "acme", 30)
	require.NoError(t, err)

	h.repo.EXPECT().FindOrganizationBySlug(gomock.Any(), "acme").Return(&h.org, nil)
	h.repo.EXPECT().FindActiveUser(gomock.Any(), h.user.ID, h.org.ID).Return(&h.user, nil)

	sess := newSession(t)
	jar := cookie.NewRecorder(map[string]string{"tn_remember": token})

	out := h.svc.ShowLogin(context.Background(), Flow{Session: sess, Cookies: jar})

	assert.Empty(t, out.Redirect)
	assert.NotEmpty(t, out.CSRFToken)
	_, ok := sess.Principal()
	assert.False(t, ok, "a half-built session must not stay authenticated")
	assert.Equal(t, -1, jar.Last("tn_remember").MaxAge)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "tenantauth_auto_login_total", "result", metrics.AutoLoginFailed))
}

func TestShowLoginClearsTamperedRememberCookie(t *testing.T) {
	h := newHarness(t)
	token, err := h.codec.Encode(h.user.ID.Int64(), "acme", 30)
	require.NoError(t, err)
	tampered := token[:len(token)-1] + flipChar(token[len(token)-1])

	sess := newSession(t)
	jar := cookie.NewRecorder(map[string]string{"tn_remember": tampered})

	out := h.svc.ShowLogin(context.Background(), Flow{Session: sess, Cookies: jar})

	assert.Empty(t, out.Redirect)
	assert.NotEmpty(t, out.CSRFToken)
	_, ok := sess.Principal()
	assert.False(t, ok)
	cleared := jar.Last("tn_remember")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestShowLoginRejectsRememberedIneligibleTenant(t *testing.T) {
	cases := map[string]func(o *domain.Organization){
		"suspended": func(o *domain.Organization) { o.Status = domain.OrgStatusSuspended },
		"trial ended": func(o *domain.Organization) {
			ended := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			o.Plan = domain.PlanTrial
			o.TrialEndsAt = &ended
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			org := h.org
			mutate(&org)
			token, err := h.codec.Encode(h.user.ID.Int64(), "acme", 30)
			require.NoError(t, err)
			h.repo.EXPECT().FindOrganizationBySlug(gomock.Any(), "acme").Return(&org, nil)

			sess := newSession(t)
			jar := cookie.NewRecorder(map[string]string{"tn_remember": token})
			out := h.svc.ShowLogin(context.Background(), Flow{Session: sess, Cookies: jar})

			assert.Empty(t, out.Redirect)
			_, ok := sess.Principal()
			assert.False(t, ok)
			assert.Equal(t, -1, jar.Last("tn_remember").MaxAge)
		})
	}
}

func TestShowLoginRememberedUserGone(t *testing.T) {
	h := newHarness(t)
	token, err := h.codec.Encode(h.user.ID.Int64(), "acme", 30)
	require.NoError(t, err)
	h.repo.EXPECT().FindOrganizationBySlug(gomock.Any(), "acme").Return(&h.org, nil)
	h.repo.EXPECT().FindActiveUser(gomock.Any(), h.user.ID, h.org.ID).Return(nil, domain.ErrUserNotFound)

	sess := newSession(t)
	jar := cookie.NewRecorder(map[string]string{"tn_remember": token})
	out := h.svc.ShowLogin(context.Background(), Flow{Session: sess, Cookies: jar})

	assert.Empty(t, out.Redirect)
	assert.Equal(t, -1, jar.Last("tn_remember").MaxAge)
}

func TestSubmitLoginSuccess(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	token := h.loginForm(t, sess)
	before := sess.ID()
	jar := cookie.NewRecorder(nil)

	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &h.org, nil)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: jar, Secure: true}, Submission{
		Identity:  "  " + testEmail + " ",
		Password:  testPassword,
		Remember:  true,
		CSRFToken: token,
		Origin:    testOrigin,
	})

	require.NoError(t, out.Err)
	assert.Equal(t, landing, out.Redirect)
	assert.Equal(t, metrics.OutcomeSuccess, out.Result)
	assert.NotEqual(t, before, sess.ID())
	assert.NotEqual(t, token, sess.CSRFSecret("login"))

	p, ok := sess.Principal()
	require.True(t, ok)
	assert.Equal(t, domain.Principal{
		UserID:      42,
		OrgID:       100,
		OrgSlug:     "acme",
		OrgName:     "Acme",
		Email:       testEmail,
		Username:    "alice",
		DisplayName: "Alice",
	}, p)

	rc := jar.Last("tn_remember")
	require.NotNil(t, rc)
	assert.True(t, rc.HttpOnly)
	assert.True(t, rc.Secure)
	assert.Equal(t, "/", rc.Path)
	decoded, err := h.codec.Decode(rc.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.UserID)
	assert.Equal(t, "acme", decoded.OrgSlug)
	assert.WithinDuration(t, h.clock.Now().Add(30*24*time.Hour), decoded.ExpiresAt, time.Second)

	assert.Equal(t, int64(1), h.attempts(t))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "tenantauth_login_attempts_total", "outcome", metrics.OutcomeSuccess))
}

func TestSubmitLoginWithoutRememberSetsNoCookie(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	token := h.loginForm(t, sess)
	jar := cookie.NewRecorder(nil)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), "alice", "").Return(&h.user, &h.org, nil)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: jar}, Submission{
		Identity: "alice", Password: testPassword, CSRFToken: token, Origin: testOrigin,
	})

	assert.Equal(t, landing, out.Redirect)
	assert.Nil(t, jar.Last("tn_remember"))
}

func TestSubmitLoginMobileIdentityPassesDigits(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	token := h.loginForm(t, sess)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), "+62 812-3456", "628123456").Return(&h.user, &h.org, nil)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: "+62 812-3456", Password: testPassword, CSRFToken: token,
	})

	assert.Equal(t, landing, out.Redirect)
}

func TestSubmitLoginCSRFMismatchSkipsEverything(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	h.loginForm(t, sess)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: "forged", Origin: testOrigin,
	})

	assert.ErrorIs(t, out.Err, domain.ErrCSRFRejected)
	assert.Equal(t, "/login", out.Redirect)
	assert.Equal(t, MsgSessionExpired, sess.PopFlash())
	assert.Equal(t, int64(0), h.attempts(t))
	_, ok := sess.Principal()
	assert.False(t, ok)
}

func TestSubmitLoginAcceptsCookieOnlyCSRF(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	jar := cookie.NewRecorder(map[string]string{"XSRF-TOKEN": "cookie-token"})
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &h.org, nil)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: jar}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: "cookie-token",
	})

	assert.Equal(t, landing, out.Redirect)
}

func TestSubmitLoginMissingCredentials(t *testing.T) {
	h := newHarness(t)
	cases := []Submission{
		{Identity: "   ", Password: testPassword},
		{Identity: testEmail, Password: ""},
	}
	for _, sub := range cases {
		sess := newSession(t)
		sub.CSRFToken = h.loginForm(t, sess)

		out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, sub)

		assert.ErrorIs(t, out.Err, domain.ErrMissingCredentials)
		assert.Equal(t, MsgMissingCredentials, out.Flash)
	}
	assert.Equal(t, int64(0), h.attempts(t))
}

func TestSubmitLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t)

	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), "ghost@example.com", "").Return(nil, nil, domain.ErrUserNotFound)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &h.org, nil)

	submit := func(identity, pw string) (Outcome, string) {
		sess := newSession(t)
		token := h.loginForm(t, sess)
		out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
			Identity: identity, Password: pw, CSRFToken: token, Origin: testOrigin,
		})
		return out, sess.PopFlash()
	}

	unknown, unknownFlash := submit("ghost@example.com", testPassword)
	wrong, wrongFlash := submit(testEmail, "not the password")

	assert.Equal(t, unknown.Redirect, wrong.Redirect)
	assert.Equal(t, unknownFlash, wrongFlash)
	assert.Equal(t, MsgInvalidCredentials, wrongFlash)
	assert.ErrorIs(t, unknown.Err, domain.ErrInvalidCredentials)
	assert.ErrorIs(t, wrong.Err, domain.ErrInvalidCredentials)
}

func TestSubmitLoginThrottlesSeventhAttempt(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	token := h.loginForm(t, sess)
	flow := Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}
	sub := Submission{Identity: testEmail, Password: "wrong", CSRFToken: token, Origin: testOrigin}

	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &h.org, nil).Times(6)

	for i := 1; i <= 6; i++ {
		out := h.svc.SubmitLogin(context.Background(), flow, sub)
		require.Equal(t, MsgInvalidCredentials, out.Flash, "attempt %d", i)
	}

	out := h.svc.SubmitLogin(context.Background(), flow, sub)
	assert.ErrorIs(t, out.Err, domain.ErrRateLimited)
	assert.Equal(t, MsgTooManyAttempts, out.Flash)

	// A correct password does not bypass an active block.
	sub.Password = testPassword
	out = h.svc.SubmitLogin(context.Background(), flow, sub)
	assert.Equal(t, MsgTooManyAttempts, out.Flash)
	_, ok := sess.Principal()
	assert.False(t, ok)

	h.clock.Advance(16 * time.Minute)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &h.org, nil)
	out = h.svc.SubmitLogin(context.Background(), flow, sub)
	assert.Equal(t, landing, out.Redirect)

	assert.Equal(t, 2.0, counterValue(t, h.registry, "tenantauth_login_attempts_total", "outcome", metrics.OutcomeThrottled))
}

func TestSubmitLoginTrialExpired(t *testing.T) {
	h := newHarness(t)
	ended := h.clock.Now().Add(-time.Hour)
	org := h.org
	org.Plan = domain.PlanTrial
	org.Status = domain.OrgStatusTrial
	org.TrialEndsAt = &ended

	sess := newSession(t)
	token := h.loginForm(t, sess)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &org, nil)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: token,
	})

	assert.ErrorIs(t, out.Err, domain.ErrTrialExpired)
	assert.Equal(t, MsgTrialExpired, out.Flash)
	_, ok := sess.Principal()
	assert.False(t, ok)
}

func TestSubmitLoginInactiveTenant(t *testing.T) {
	h := newHarness(t)
	org := h.org
	org.Status = domain.OrgStatusSuspended

	sess := newSession(t)
	token := h.loginForm(t, sess)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &org, nil)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: token,
	})

	assert.ErrorIs(t, out.Err, domain.ErrTenantIneligible)
	assert.Equal(t, MsgTenantIneligible, out.Flash)
	_, ok := sess.Principal()
	assert.False(t, ok)
}

func TestSubmitLoginActiveTrialSucceeds(t *testing.T) {
	h := newHarness(t)
	ends := h.clock.Now().Add(72 * time.Hour)
	org := h.org
	org.Plan = domain.PlanTrial
	org.Status = domain.OrgStatusTrial
	org.TrialEndsAt = &ends

	sess := newSession(t)
	token := h.loginForm(t, sess)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(&h.user, &org, nil)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: token,
	})

	assert.Equal(t, landing, out.Redirect)
}

type downStore struct{}

var errStoreDown = errors.New("database unavailable")

func (downStore) Record(context.Context, *throttle.LoginAttempt) error { return errStoreDown }
func (downStore) CountSince(context.Context, string, []byte, time.Time) (int64, error) {
	return 0, errStoreDown
}

func TestSubmitLoginFailsClosedWhenThrottleStoreIsDown(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	broken := throttle.New(downStore{}, throttle.StaticPolicy(throttle.Policy{MaxAttempts: 6, Window: time.Minute}), clk, nil, zaptest.NewLogger(t))
	h := newHarness(t, withThrottle(broken))

	sess := newSession(t)
	token := h.loginForm(t, sess)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: token,
	})

	assert.ErrorIs(t, out.Err, domain.ErrPersistence)
	assert.Equal(t, MsgUnavailable, out.Flash)
	_, ok := sess.Principal()
	assert.False(t, ok)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "tenantauth_throttle_store_errors_total", "", ""))
}

func TestSubmitLoginRepositoryFailure(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	token := h.loginForm(t, sess)
	h.repo.EXPECT().FindLoginCandidate(gomock.Any(), testEmail, "").Return(nil, nil, errStoreDown)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: token,
	})

	assert.ErrorIs(t, out.Err, domain.ErrPersistence)
	assert.ErrorIs(t, out.Err, errStoreDown)
	assert.Equal(t, MsgUnavailable, out.Flash)
}

type stubOrigins struct {
	allow bool
	err   error
	seen  []string
}

func (s *stubOrigins) AllowOrigin(_ context.Context, origin string) (bool, error) {
	s.seen = append(s.seen, origin)
	return s.allow, s.err
}

func TestSubmitLoginOriginLimiter(t *testing.T) {
	origins := &stubOrigins{allow: false}
	h := newHarness(t, withOrigins(origins))
	sess := newSession(t)
	token := h.loginForm(t, sess)

	out := h.svc.SubmitLogin(context.Background(), Flow{Session: sess, Cookies: cookie.NewRecorder(nil)}, Submission{
		Identity: testEmail, Password: testPassword, CSRFToken: token, Origin: testOrigin,
	})

	assert.ErrorIs(t, out.Err, domain.ErrRateLimited)
	assert.Equal(t, MsgTooManyAttempts, out.Flash)
	assert.Equal(t, []string{testOrigin}, origins.seen)
	assert.Equal(t, int64(0), h.attempts(t))
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	sess.SetPrincipal(domain.NewPrincipal(h.user, h.org))
	oldSecret := h.loginForm(t, sess)
	before := sess.ID()
	jar := cookie.NewRecorder(map[string]string{"tn_remember": "anything"})

	out := h.svc.Logout(context.Background(), Flow{Session: sess, Cookies: jar}, oldSecret)

	require.NoError(t, out.Err)
	assert.Equal(t, "/login", out.Redirect)
	assert.Equal(t, ResultLoggedOut, out.Result)
	assert.NotEqual(t, before, sess.ID())
	_, ok := sess.Principal()
	assert.False(t, ok)
	assert.NotEmpty(t, sess.CSRFSecret("login"))
	assert.NotEqual(t, oldSecret, sess.CSRFSecret("login"))
	assert.Equal(t, MsgLoggedOut, sess.PopFlash())

	cleared := jar.Last("tn_remember")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Empty(t, cleared.Value)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "tenantauth_logout_total", "", ""))
}

func TestLogoutRequiresCSRF(t *testing.T) {
	h := newHarness(t)
	sess := newSession(t)
	sess.SetPrincipal(domain.NewPrincipal(h.user, h.org))
	secret := h.loginForm(t, sess)
	before := sess.ID()
	jar := cookie.NewRecorder(map[string]string{"tn_remember": "anything"})

	out := h.svc.Logout(context.Background(), Flow{Session: sess, Cookies: jar}, "forged")

	assert.ErrorIs(t, out.Err, domain.ErrCSRFRejected)
	assert.Equal(t, metrics.OutcomeCSRFMismatch, out.Result)
	assert.Equal(t, landing, out.Redirect)
	assert.Equal(t, before, sess.ID())
	_, ok := sess.Principal()
	assert.True(t, ok)
	assert.Equal(t, secret, sess.CSRFSecret("login"))
	assert.Nil(t, jar.Last("tn_remember"))
	assert.Equal(t, 0.0, counterValue(t, h.registry, "tenantauth_logout_total", "", ""))

	anonymous := newSession(t)
	out = h.svc.Logout(context.Background(), Flow{Session: anonymous, Cookies: cookie.NewRecorder(nil)}, "")
	assert.Equal(t, "/login", out.Redirect)
}

func flipChar(c byte) string {
	if c == 'A' {
		return "B"
	}
	return "A"
}
