package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/tenantauth/internal/auth/domain"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal_error")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// apiError is the JSON body of a failed /auth request. Messages never say
// which credential was wrong.
type apiError struct {
	status  int
	Type    string `json:"type"`
	Message string `json:"message"`
}

var (
	apiUnauthorized = apiError{http.StatusUnauthorized, "unauthorized", "unauthorized"}
	apiForbidden    = apiError{http.StatusForbidden, "forbidden", "forbidden"}
	apiRateLimited  = apiError{http.StatusTooManyRequests, "rate_limited", "too many requests"}
	apiUnavailable  = apiError{http.StatusServiceUnavailable, "service_unavailable", "service unavailable"}
	apiInternal     = apiError{http.StatusInternalServerError, "internal_error", "internal server error"}
)

// First match wins.
var errorTable = []struct {
	targets []error
	api     apiError
}{
	{[]error{ErrUnauthorized, authdomain.ErrInvalidCredentials, authdomain.ErrInvalidToken}, apiUnauthorized},
	{[]error{authdomain.ErrCSRFRejected}, apiForbidden},
	{[]error{authdomain.ErrRateLimited}, apiRateLimited},
	{[]error{ErrServiceUnavailable, authdomain.ErrPersistence}, apiUnavailable},
}

func lookupError(err error) apiError {
	for _, row := range errorTable {
		for _, target := range row.targets {
			if errors.Is(err, target) {
				return row.api
			}
		}
	}
	return apiInternal
}

// ErrorHandlingMiddleware renders the last handler error as JSON unless the
// handler already wrote a response, as the login redirects do.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		api := lookupError(last.Err)
		c.AbortWithStatusJSON(api.status, gin.H{"error": api})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
		c.Abort()
	}
}

// classifyErrorForLog returns the error type and status text for request logs.
func classifyErrorForLog(err error) (string, string) {
	api := lookupError(err)
	return api.Type, http.StatusText(api.status)
}
