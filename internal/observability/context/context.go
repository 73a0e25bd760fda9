// Package context carries request-scoped correlation values used by logging and tracing.
package context

import (
	"context"
	"sync"
)

type requestIDKey struct{}
type orgKey struct{}
type actorKey struct{}

type actor struct {
	actorType string
	actorID   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithOrg records the tenant slug the request is operating on.
func WithOrg(ctx context.Context, orgSlug string) context.Context {
	return context.WithValue(ctx, orgKey{}, orgSlug)
}

func OrgFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(orgKey{}).(string)
	return value
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{actorType: actorType, actorID: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.actorType, value.actorID
}

type authResultKey struct{}

// AuthResult collects how the login flow ended for one request. Request
// middlewares install it before the handler runs and read it afterwards.
type AuthResult struct {
	mu     sync.Mutex
	result string
}

func (r *AuthResult) Result() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// WithAuthResult installs a result holder, reusing one already present.
func WithAuthResult(ctx context.Context) (context.Context, *AuthResult) {
	if holder, ok := ctx.Value(authResultKey{}).(*AuthResult); ok {
		return ctx, holder
	}
	holder := &AuthResult{}
	return context.WithValue(ctx, authResultKey{}, holder), holder
}

// RecordAuthResult stores result in the request's holder, if any.
func RecordAuthResult(ctx context.Context, result string) {
	if ctx == nil || result == "" {
		return
	}
	holder, ok := ctx.Value(authResultKey{}).(*AuthResult)
	if !ok {
		return
	}
	holder.mu.Lock()
	holder.result = result
	holder.mu.Unlock()
}
