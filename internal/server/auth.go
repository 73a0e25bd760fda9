package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantauth/internal/auth/cookie"
	"github.com/smallbiznis/tenantauth/internal/auth/csrf"
	"github.com/smallbiznis/tenantauth/internal/auth/service"
	"github.com/smallbiznis/tenantauth/internal/auth/session"
	obscontext "github.com/smallbiznis/tenantauth/internal/observability/context"
	"go.uber.org/zap"
)

type loginPageResponse struct {
	CSRFToken string `json:"csrf_token"`
	Flash     string `json:"flash,omitempty"`
}

func (s *Server) ShowLogin(c *gin.Context) {
	sess, flow, ok := s.begin(c)
	if !ok {
		return
	}

	out := s.auth.ShowLogin(c.Request.Context(), flow)
	s.finish(c, sess, out)
}

func (s *Server) SubmitLogin(c *gin.Context) {
	sess, flow, ok := s.begin(c)
	if !ok {
		return
	}

	out := s.auth.SubmitLogin(c.Request.Context(), flow, service.Submission{
		Identity:  loginIdentity(c),
		Password:  c.PostForm("password"),
		Remember:  formBool(c.PostForm("remember")),
		CSRFToken: csrf.SubmittedToken(c.Request),
		Origin:    c.ClientIP(),
	})
	s.finish(c, sess, out)
}

func (s *Server) Logout(c *gin.Context) {
	sess, flow, ok := s.begin(c)
	if !ok {
		return
	}

	out := s.auth.Logout(c.Request.Context(), flow, csrf.SubmittedToken(c.Request))
	s.finish(c, sess, out)
}

func (s *Server) Me(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, principal)
}

func (s *Server) begin(c *gin.Context) (*session.Session, service.Flow, bool) {
	sess, err := s.sessions.Start(c)
	if err != nil {
		s.log.Error("session start failed", zap.Error(err))
		AbortWithError(c, ErrInternal)
		return nil, service.Flow{}, false
	}
	return sess, service.Flow{
		Session: sess,
		Cookies: cookie.FromGin(c),
		Secure:  cookie.RequestIsSecure(c.Request),
	}, true
}

// finish persists the session before anything reaches the client.
func (s *Server) finish(c *gin.Context, sess *session.Session, out service.Outcome) {
	obscontext.RecordAuthResult(c.Request.Context(), out.Result)
	if err := s.sessions.Commit(c, sess); err != nil {
		s.log.Error("session commit failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if out.Redirect != "" {
		c.Redirect(http.StatusFound, out.Redirect)
		return
	}
	c.JSON(http.StatusOK, loginPageResponse{
		CSRFToken: out.CSRFToken,
		Flash:     out.Flash,
	})
}

func loginIdentity(c *gin.Context) string {
	for _, field := range []string{"identity", "email", "username"} {
		if v := strings.TrimSpace(c.PostForm(field)); v != "" {
			return v
		}
	}
	return ""
}

func formBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}
