package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantauth/internal/auth/cookie"
	"github.com/smallbiznis/tenantauth/internal/config"
	"go.uber.org/zap"
)

// Manager binds sessions to the session id cookie.
type Manager struct {
	store      Store
	cookieName string
	domain     string
	secure     bool
	ttl        time.Duration
	log        *zap.Logger
}

func NewManager(cfg config.AuthConfig, store Store, log *zap.Logger) *Manager {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	name := strings.TrimSpace(cfg.SessionCookieName)
	if name == "" {
		name = "tn_session"
	}
	return &Manager{
		store:      store,
		cookieName: name,
		domain:     cfg.CookieDomain,
		secure:     cfg.CookieSecure,
		ttl:        ttl,
		log:        log.Named("auth.session"),
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

// Start loads the session named by the request cookie. A missing, expired or
// unreadable session yields a fresh anonymous one.
func (m *Manager) Start(c *gin.Context) (*Session, error) {
	return m.StartFrom(c.Request.Context(), cookie.FromGin(c))
}

func (m *Manager) StartFrom(ctx context.Context, jar cookie.Jar) (*Session, error) {
	if id, ok := jar.Get(m.cookieName); ok {
		data, found, err := m.store.Load(ctx, id)
		if err != nil {
			m.log.Warn("session load failed; starting fresh session", zap.Error(err))
		}
		if err == nil && found {
			return newSession(id, data), nil
		}
	}
	return New()
}

// Commit persists s and writes the id cookie. It must run before the response
// body or redirect is written.
func (m *Manager) Commit(c *gin.Context, s *Session) error {
	return m.CommitTo(c.Request.Context(), cookie.FromGin(c), s, cookie.RequestIsSecure(c.Request))
}

func (m *Manager) CommitTo(ctx context.Context, jar cookie.Jar, s *Session, secure bool) error {
	for _, id := range s.retired {
		if err := m.store.Delete(ctx, id); err != nil {
			m.log.Warn("retired session delete failed", zap.Error(err))
		}
	}
	s.retired = nil

	if err := m.store.Save(ctx, s.id, s.data, m.ttl); err != nil {
		return err
	}

	jar.Set(&http.Cookie{
		Name:     m.cookieName,
		Value:    s.id,
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   int(m.ttl.Seconds()),
		Secure:   m.secure || secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
