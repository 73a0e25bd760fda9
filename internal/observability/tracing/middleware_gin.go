package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tenantauth/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// MiddlewareConfig selects which routes are traced.
type MiddlewareConfig struct {
	// SkipRoutes are never traced. Health checks and scrapes would drown login spans.
	SkipRoutes []string
	// FailedResults are login flow results that mark the span as an error
	// even though the response is a redirect.
	FailedResults []string
}

// GinMiddleware opens a server span per request and tags it with the route
// and the login flow result. Cookies, form values and query strings are
// never attached.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	tracer := otel.Tracer("tenantauth/http")
	skip := toSet(cfg.SkipRoutes)
	failedResults := toSet(cfg.FailedResults)

	return func(c *gin.Context) {
		if _, ok := skip[c.FullPath()]; ok {
			c.Next()
			return
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, result := obscontext.WithAuthResult(ctx)
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)...)

		outcome := result.Result()
		if outcome != "" {
			span.SetAttributes(attribute.String("auth.result", outcome))
		}
		if org := obscontext.OrgFromContext(c.Request.Context()); org != "" {
			span.SetAttributes(attribute.String("auth.org", org))
		}
		if location := c.Writer.Header().Get("Location"); location != "" {
			span.SetAttributes(attribute.String("http.redirect_path", redirectPath(location)))
		}

		_, failed := failedResults[outcome]
		if status >= http.StatusInternalServerError || failed {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, "request failed")
		}
	}
}

// redirectPath keeps only the path of a redirect target.
func redirectPath(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		return location[:i]
	}
	return location
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
