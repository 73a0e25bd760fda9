package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	obscontext "github.com/smallbiznis/tenantauth/internal/observability/context"
)

const contextPrincipalKey = "auth.principal"

// WebAuthRequired admits requests whose session carries a principal and
// exposes it to later handlers.
func (s *Server) WebAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.sessions.Start(c)
		if err != nil {
			AbortWithError(c, ErrInternal)
			return
		}

		principal, ok := sess.Principal()
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithOrg(c.Request.Context(), principal.OrgSlug)
		ctx = obscontext.WithActor(ctx, "user", strconv.FormatInt(principal.UserID, 10))
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextPrincipalKey, principal)
		c.Next()
	}
}

func principalFrom(c *gin.Context) (domain.Principal, bool) {
	v, ok := c.Get(contextPrincipalKey)
	if !ok {
		return domain.Principal{}, false
	}
	p, ok := v.(domain.Principal)
	return p, ok
}
