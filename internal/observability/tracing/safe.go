package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Keys that must never be exported on spans. Login traffic carries all of them.
var forbiddenKeys = map[attribute.Key]struct{}{
	"password":       {},
	"login":          {},
	"identity":       {},
	"email":          {},
	"mobile":         {},
	"csrf_token":     {},
	"remember_token": {},
	"session_id":     {},
	"_token":         {},
	"http.url":       {},
	"url.query":      {},
	"url.full":       {},

	"cookie":                          {},
	"set-cookie":                      {},
	"http.request.header.cookie":      {},
	"http.response.header.set-cookie": {},
	"http.request.body":               {},
}

// ExtractContext pulls an upstream trace context out of the carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes whose keys could leak credentials.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := forbiddenKeys[attribute.Key(strings.ToLower(string(attr.Key)))]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces an error to its message with control characters removed,
// detaching any wrapped values from the exported span.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.Map(func(r rune) rune {
		if r < 0x20 {
			return ' '
		}
		return r
	}, err.Error())
	return errors.New(strings.TrimSpace(msg))
}
