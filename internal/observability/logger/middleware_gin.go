package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/tenantauth/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
	// QuietRoutes log at debug level.
	QuietRoutes []string
	// WarnResults are login flow results worth a warning: each one is a
	// possible attack or an outage.
	WarnResults []string
}

// GinMiddleware logs one line per request with the login flow result.
// Query strings, form bodies and cookies are never logged; login requests
// carry credentials in all three.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := toSet(cfg.QuietRoutes)
	warn := toSet(cfg.WarnResults)

	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx, result := obscontext.WithAuthResult(ctx)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("client_ip", c.ClientIP()),
		}

		outcome := result.Result()
		if outcome != "" {
			fields = append(fields, zap.String("auth_result", outcome))
		}
		if location := c.Writer.Header().Get("Location"); location != "" {
			fields = append(fields, zap.String("redirect", location))
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorType, errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		level := zapcore.InfoLevel
		_, isQuiet := quiet[route]
		_, isWarn := warn[outcome]
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case isWarn:
			level = zapcore.WarnLevel
		case isQuiet:
			level = zapcore.DebugLevel
		}

		if log := FromContext(c.Request.Context()); log != nil {
			if ce := log.Check(level, "http_request"); ce != nil {
				ce.Write(fields...)
			}
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" || len(requestID) > 128 {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
