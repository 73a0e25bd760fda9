// Package csrf issues and verifies login CSRF tokens.
//
// A token is held in the server session per namespace and mirrored into
// script-readable cookies. A submission is accepted when it matches the
// session secret or any candidate cookie for the namespace.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/tenantauth/internal/auth/cookie"
	"github.com/smallbiznis/tenantauth/internal/clock"
	"github.com/smallbiznis/tenantauth/internal/config"
)

const tokenBytes = 32

// Form fields and headers that may carry a submitted token, in priority order.
var (
	FormFields = []string{"_token", "csrf_token"}
	Headers    = []string{"X-CSRF-TOKEN", "X-XSRF-TOKEN"}
)

const (
	genericCookie    = "XSRF-TOKEN"
	namespacedCookie = "XSRF-TOKEN-{ns}"
	namespacePattern = "{ns}"
	defaultCookieTTL = time.Hour
	defaultNamespace = "login"
)

// SecretStore holds per-namespace secrets in server-side session state.
type SecretStore interface {
	CSRFSecret(namespace string) string
	SetCSRFSecret(namespace, secret string)
}

// CookieIssuer mirrors a token into cookies.
type CookieIssuer interface {
	IssueCookies(jar cookie.Jar, token, namespace string, secure bool)
}

type Guard struct {
	namespace   string
	candidates  []string
	domain      string
	ttl         time.Duration
	forceSecure bool
	clock       clock.Clock
}

var _ CookieIssuer = (*Guard)(nil)

func NewGuard(cfg config.AuthConfig, clk clock.Clock) *Guard {
	ns := strings.TrimSpace(cfg.CSRFNamespace)
	if ns == "" {
		ns = defaultNamespace
	}
	ttl := cfg.CSRFCookieTTL
	if ttl <= 0 {
		ttl = defaultCookieTTL
	}
	candidates := cfg.CSRFCookieCandidates
	if len(candidates) == 0 {
		candidates = []string{namespacedCookie, genericCookie}
	}
	return &Guard{
		namespace:   ns,
		candidates:  candidates,
		domain:      strings.TrimSpace(cfg.CookieDomain),
		ttl:         ttl,
		forceSecure: cfg.CookieSecure,
		clock:       clk,
	}
}

// Namespace is the default namespace used by the login flow.
func (g *Guard) Namespace() string {
	return g.namespace
}

// Issue stores a fresh token for namespace and returns it.
func (g *Guard) Issue(store SecretStore, namespace string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	store.SetCSRFSecret(namespace, token)
	return token, nil
}

// Rotate replaces the session secret. Cookies are left alone; a stale cookie
// is refreshed by the next Issue.
func (g *Guard) Rotate(store SecretStore, namespace string) error {
	_, err := g.Issue(store, namespace)
	return err
}

// IssueCookies sets the namespaced and generic cookies for token.
func (g *Guard) IssueCookies(jar cookie.Jar, token, namespace string, secure bool) {
	expires := g.clock.Now().Add(g.ttl)
	for _, name := range []string{cookieName(namespacedCookie, namespace), genericCookie} {
		jar.Set(&http.Cookie{
			Name:     name,
			Value:    token,
			Path:     "/",
			Domain:   g.domain,
			Expires:  expires,
			MaxAge:   int(g.ttl.Seconds()),
			Secure:   secure || g.forceSecure,
			HttpOnly: false,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// VerifySession reports whether submitted equals the session secret.
func (g *Guard) VerifySession(store SecretStore, submitted, namespace string) bool {
	if submitted == "" || store == nil {
		return false
	}
	return equal(submitted, store.CSRFSecret(namespace))
}

// VerifyCookie reports whether submitted equals any candidate cookie value.
func (g *Guard) VerifyCookie(jar cookie.Jar, submitted, namespace string) bool {
	if submitted == "" || jar == nil {
		return false
	}
	matched := false
	for _, name := range g.CookieNames(namespace) {
		value, ok := jar.Get(name)
		if !ok {
			continue
		}
		// Every candidate is compared so timing does not reveal which one matched.
		if equal(submitted, value) {
			matched = true
		}
	}
	return matched
}

// Verify accepts submitted when either channel matches.
func (g *Guard) Verify(store SecretStore, jar cookie.Jar, submitted, namespace string) bool {
	sessionOK := g.VerifySession(store, submitted, namespace)
	cookieOK := g.VerifyCookie(jar, submitted, namespace)
	return sessionOK || cookieOK
}

// CookieNames expands the candidate list for namespace, dropping duplicates.
func (g *Guard) CookieNames(namespace string) []string {
	seen := make(map[string]struct{}, len(g.candidates))
	names := make([]string, 0, len(g.candidates))
	for _, candidate := range g.candidates {
		name := cookieName(strings.TrimSpace(candidate), namespace)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// SubmittedToken extracts the token from r: form fields first, then headers.
func SubmittedToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, field := range FormFields {
		if value := strings.TrimSpace(r.PostFormValue(field)); value != "" {
			return value
		}
	}
	for _, header := range Headers {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value
		}
	}
	return ""
}

func cookieName(pattern, namespace string) string {
	return strings.ReplaceAll(pattern, namespacePattern, namespace)
}

func equal(a, b string) bool {
	if b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
